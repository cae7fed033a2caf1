// Package rpcapi defines the conductor's NATS wire contract and the clients
// that speak it.
//
// Requests go to "<topic>.<operation>" with a JSON object keyed by argument
// name. Every reply is a Response: either a result or a fault that the
// client turns back into the matching error kind. The reverse channel
// addresses one worker on "namos.worker.<identification>".
package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/topology"
)

// DefaultTopic is the conductor's subject prefix.
const DefaultTopic = "namos.conductor"

// Conductor operations.
const (
	OpRegisterMyself     = "register_myself"
	OpHeartBeat          = "heart_beat"
	OpAddRegion          = "add_region"
	OpRegionGetAll       = "region_get_all"
	OpServicePerspective = "service_perspective_get"
	OpDevicePerspective  = "device_perspective_get"
	OpRegionPerspective  = "region_perspective_get"
	OpInfraPerspective   = "infra_perspective_get"
	OpView360            = "view_360"
	OpGetStatus          = "get_status"
	OpConfigGetByName    = "config_get_by_name_for_service_worker"
	OpConfigFileGet      = "config_file_get"
	OpConfigFileUpdate   = "config_file_update"
	OpConfigSchema       = "config_schema"
	OpConfigSchemaLoad   = "config_schema_load"
	OpPingWorker         = "ping_worker"
)

// Operations lists every conductor operation.
var Operations = []string{
	OpRegisterMyself, OpHeartBeat, OpAddRegion, OpRegionGetAll,
	OpServicePerspective, OpDevicePerspective, OpRegionPerspective, OpInfraPerspective,
	OpView360, OpGetStatus, OpConfigGetByName, OpConfigFileGet, OpConfigFileUpdate,
	OpConfigSchema, OpConfigSchemaLoad, OpPingWorker,
}

// Subject is the request subject of op under topic.
func Subject(topic, op string) string {
	return topic + "." + op
}

// Transport carries requests and one-way messages.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Response is the reply envelope of every request.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *errors.Fault   `json:"fault,omitempty"`
}

// NewResponse encodes result, or err as a fault.
func NewResponse(result any, err error) []byte {
	resp := Response{Fault: errors.ToFault(err)}
	if err == nil && result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Fault = errors.ToFault(errors.WrapInvalid(merr, "rpcapi", "NewResponse", "encode result"))
		} else {
			resp.Result = raw
		}
	}
	data, _ := json.Marshal(resp)
	return data
}

// Decode unpacks a reply into out. A fault comes back as its error kind.
func Decode(data []byte, out any) error {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return errors.WrapInvalid(err, "rpcapi", "Decode", "decode response")
	}
	if resp.Fault != nil {
		return errors.FromFault(resp.Fault)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.WrapInvalid(err, "rpcapi", "Decode", "decode result")
	}
	return nil
}

// Request arguments, keyed as on the wire.
type (
	RegisterArgs struct {
		RegistrationInfo *model.RegistrationInfo `json:"registration_info"`
	}
	HeartBeatArgs struct {
		Identification string `json:"identification"`
		Dying          bool   `json:"dying,omitempty"`
	}
	RegionArgs struct {
		Region *model.Region `json:"region"`
	}
	PerspectiveArgs struct {
		ID             string `json:"id"`
		IncludeDetails bool   `json:"include_details,omitempty"`
	}
	ConfigGetArgs struct {
		ServiceWorkerID string `json:"service_worker_id"`
		Name            string `json:"name,omitempty"`
		OnlyConfigured  *bool  `json:"only_configured,omitempty"`
	}
	ConfigFileArgs struct {
		FileID  string `json:"file_id"`
		Content string `json:"content,omitempty"`
	}
	ConfigSchemaArgs struct {
		Project      string `json:"project"`
		WithFileLink bool   `json:"with_file_link,omitempty"`
	}
	ConfigSchemaLoadArgs struct {
		Project string                `json:"project"`
		Entries []*model.ConfigSchema `json:"entries"`
	}
	PingArgs struct {
		Identification string `json:"identification"`
	}
)

// ViewArgs are the view_360 switches.
type ViewArgs = topology.ViewOptions

// StatusArgs are the get_status filters.
type StatusArgs = topology.StatusFilter

// Config file update outcomes.
const (
	UpdateCompleted  = "completed"
	UpdateFailed     = "failed"
	UpdateNoLauncher = "no_launcher"
)

// ConfigFileUpdateResult reports a config_file_update.
type ConfigFileUpdateResult struct {
	File     *model.ConfigFile `json:"file"`
	Status   string            `json:"status"`
	WorkerID string            `json:"service_worker_id,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// RegisterResult reports a register_myself.
type RegisterResult struct {
	ServiceWorkerID string   `json:"service_worker_id"`
	Drivers         int      `json:"drivers"`
	Skipped         []string `json:"skipped,omitempty"`
}

// PingResult reports a ping_worker.
type PingResult struct {
	Alive bool `json:"alive"`
}

// WorkerSubject is the reverse-channel subject of a worker. The
// identification becomes a single subject token: letters, digits, '-', ':'
// and '@' are kept, '_' is doubled and every other byte is written as '_'
// and two hex digits, so distinct identifications never share a subject.
func WorkerSubject(identification string) string {
	var b strings.Builder
	b.WriteString("namos.worker.")
	for i := 0; i < len(identification); i++ {
		c := identification[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == ':', c == '@':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("__")
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}
