// Package errors provides the error vocabulary shared by the namos conductor,
// its store backends and its RPC clients. It combines a small classification
// model (transient, invalid, fatal) used for retry decisions with the domain
// error kinds surfaced to callers: not-found per entity kind, natural-key
// collisions, validation failures and the wire fault that carries them.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller what to do with an error: retry it, report it
// to whoever sent the input, or give up.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorInvalid
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

var (
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCallbackTimeout   = errors.New("worker callback timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	ErrStoreClosed   = errors.New("store closed")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrInvalidData = errors.New("invalid data format")
)

// sentinelClasses classifies unwrapped sentinels.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrConnectionTimeout, ErrorTransient},
	{ErrCallbackTimeout, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{ErrStoreClosed, ErrorFatal},
	{ErrDataCorrupted, ErrorFatal},
	{ErrInvalidConfig, ErrorFatal},
	{ErrInvalidData, ErrorInvalid},
}

// ClassifiedError attaches a class and the failing component to an error.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// classOf returns the class err carries explicitly, through a
// ClassifiedError or a known sentinel. Domain kinds have no class except
// validation failures, which are invalid input.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	if IsValidation(err) {
		return ErrorInvalid, true
	}
	return 0, false
}

// transientHints are message fragments of driver errors worth a retry.
var transientHints = []string{"timeout", "connection", "unavailable", "temporary"}

// IsTransient reports whether retrying err may succeed. Not-found and
// already-exist answers are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	if IsNotFound(err) || IsAlreadyExist(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should stop the process or the operation.
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err is caused by the caller's input.
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err, transient when it carries none.
func Classify(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorTransient
}

// Wrap annotates err as "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap for errors that are worth a retry.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap for errors that end the operation.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap for errors caused by the caller's input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is, As and New re-export the standard library helpers so callers that
// import this package under the name errors do not need a second import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
