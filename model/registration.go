package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openstack-archive/namos/errors"
)

// ConfigOption is one declared option in a registration payload.
// Value and DefaultValue keep whatever JSON type the worker sent.
type ConfigOption struct {
	Group        string `json:"group"`
	Name         string `json:"name"`
	Value        any    `json:"value"`
	DefaultValue any    `json:"default_value"`
	Help         string `json:"help,omitempty"`
	Type         string `json:"type,omitempty"`
	Required     bool   `json:"required,omitempty"`
	Secret       bool   `json:"secret,omitempty"`
}

// FullName is "group.name", the form Config rows are keyed by.
func (o ConfigOption) FullName() string {
	return o.Group + "." + o.Name
}

// Effective returns the declared value, or the default when the value is empty.
func (o ConfigOption) Effective() string {
	if v := StringValue(o.Value); v != "" {
		return v
	}
	return StringValue(o.DefaultValue)
}

// RegistrationInfo is the payload a worker sends to announce itself.
type RegistrationInfo struct {
	ProjectName    string                  `json:"project_name"`
	ProgName       string                  `json:"prog_name"`
	Identification string                  `json:"identification"`
	FQDN           string                  `json:"fqdn"`
	IPs            []string                `json:"ips"`
	Host           string                  `json:"host"`
	PID            json.Number             `json:"pid"`
	IAmLauncher    bool                    `json:"i_am_launcher"`
	RegionName     string                  `json:"region_name,omitempty"`
	ConfigDict     map[string]ConfigOption `json:"config_dict,omitempty"`
	ConfigList     []ConfigOption          `json:"config_list"`
	ConfigFileDict map[string]string       `json:"config_file_dict"`
}

// Validate checks the fields the pipeline cannot work without.
func (r *RegistrationInfo) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"project_name", r.ProjectName},
		{"prog_name", r.ProgName},
		{"identification", r.Identification},
		{"fqdn", r.FQDN},
		{"host", r.Host},
		{"pid", r.PID.String()},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errors.Validation(f.field, "must not be empty")
		}
	}
	for i, opt := range r.ConfigList {
		if opt.Group == "" || opt.Name == "" {
			return errors.Validation(fmt.Sprintf("config_list[%d]", i), "group and name are required")
		}
	}
	return nil
}

// StringValue renders an option value the way it is stored in Config rows.
// Lists render as "['a', 'b']" so they can be split again by driver resolution.
func StringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = "'" + StringValue(item) + "'"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = "'" + item + "'"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}
