package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names the entity type an error refers to.
type Kind string

// Entity kinds with a dedicated not-found error
const (
	KindRegion            Kind = "region"
	KindServiceNode       Kind = "service_node"
	KindService           Kind = "service"
	KindServiceComponent  Kind = "service_component"
	KindServiceWorker     Kind = "service_worker"
	KindConfigSchema      Kind = "config_schema"
	KindConfigFile        Kind = "config_file"
	KindConfigFileEntry   Kind = "config_file_entry"
	KindConfig            Kind = "config"
	KindDevice            Kind = "device"
	KindDeviceEndpoint    Kind = "device_endpoint"
	KindDeviceDriverClass Kind = "device_driver_class"
	KindDeviceDriver      Kind = "device_driver"
)

// Numeric error codes reported alongside HTTP statuses.
const (
	CodeNotFound                  = -1
	CodeAlreadyExist              = 0x01002
	CodeRegionNotFound            = 0x01001
	CodeDeviceNotFound            = 0x02001
	CodeDeviceEndpointNotFound    = 0x03001
	CodeDeviceDriverNotFound      = 0x04001
	CodeDeviceDriverClassNotFound = 0x05001
	CodeServiceNotFound           = 0x06001
	CodeServiceNodeNotFound       = 0x07001
	CodeServiceComponentNotFound  = 0x08001
	CodeServiceWorkerNotFound     = 0x09001
	CodeConfigNotFound            = 0x0a001
	CodeValidation                = 0x0b001
)

var notFoundCodes = map[Kind]int{
	KindRegion:            CodeRegionNotFound,
	KindDevice:            CodeDeviceNotFound,
	KindDeviceEndpoint:    CodeDeviceEndpointNotFound,
	KindDeviceDriver:      CodeDeviceDriverNotFound,
	KindDeviceDriverClass: CodeDeviceDriverClassNotFound,
	KindService:           CodeServiceNotFound,
	KindServiceNode:       CodeServiceNodeNotFound,
	KindServiceComponent:  CodeServiceComponentNotFound,
	KindServiceWorker:     CodeServiceWorkerNotFound,
	KindConfig:            CodeConfigNotFound,
}

// labels renders a kind in messages ("Service Worker", "Device Endpoint").
var labels = map[Kind]string{
	KindRegion:            "Region",
	KindServiceNode:       "Service Node",
	KindService:           "Service",
	KindServiceComponent:  "Service Component",
	KindServiceWorker:     "Service Worker",
	KindConfigSchema:      "Config Schema",
	KindConfigFile:        "Config File",
	KindConfigFileEntry:   "Config File Entry",
	KindConfig:            "Config",
	KindDevice:            "Device",
	KindDeviceEndpoint:    "Device Endpoint",
	KindDeviceDriverClass: "Device Driver Class",
	KindDeviceDriver:      "Device Driver",
}

func (k Kind) label() string {
	if l, ok := labels[k]; ok {
		return l
	}
	return string(k)
}

// Coder is implemented by errors that report a numeric code and HTTP status.
type Coder interface {
	ErrorCode() int
	HTTPStatus() int
}

// NotFoundError reports a missing entity of a given kind.
// Key is the id or natural key that was looked up.
type NotFoundError struct {
	Kind Kind
	Key  string
}

// NotFound builds a NotFoundError.
func NotFound(kind Kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not found", e.Kind.label(), e.Key)
}

// ErrorCode implements Coder.
func (e *NotFoundError) ErrorCode() int {
	if code, ok := notFoundCodes[e.Kind]; ok {
		return code
	}
	return CodeNotFound
}

// HTTPStatus implements Coder.
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// AlreadyExistError reports a natural-key collision.
type AlreadyExistError struct {
	Model string
	Name  string
}

// AlreadyExist builds an AlreadyExistError.
func AlreadyExist(model, name string) *AlreadyExistError {
	return &AlreadyExistError{Model: model, Name: name}
}

func (e *AlreadyExistError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Model, e.Name)
}

// ErrorCode implements Coder.
func (e *AlreadyExistError) ErrorCode() int { return CodeAlreadyExist }

// HTTPStatus implements Coder.
func (e *AlreadyExistError) HTTPStatus() int { return http.StatusForbidden }

// ValidationError reports a malformed payload field.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation builds a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorCode implements Coder.
func (e *ValidationError) ErrorCode() int { return CodeValidation }

// HTTPStatus implements Coder.
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// IsNotFound reports whether err is a NotFoundError of any kind.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsNotFoundKind reports whether err is a NotFoundError for kind.
func IsNotFoundKind(err error, kind Kind) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Kind == kind
}

// IsAlreadyExist reports whether err is an AlreadyExistError.
func IsAlreadyExist(err error) bool {
	var ae *AlreadyExistError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPStatus returns the HTTP status for err, 500 when err carries none.
func HTTPStatus(err error) int {
	var c Coder
	if errors.As(err, &c) {
		return c.HTTPStatus()
	}
	return http.StatusInternalServerError
}
