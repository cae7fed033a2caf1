package drivers

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringList accepts a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

// Deprecation marks a driver superseded in a release.
type Deprecation struct {
	Alternate string `yaml:"alternate" json:"alternate"`
	Since     string `yaml:"since" json:"since"`
}

// Metadata describes a canonical driver.
// Type is the owning project (nova, cinder, ...) or broad category
// (database, message); Class narrows it (volume, hypervisor, backup).
type Metadata struct {
	Type        string         `yaml:"type" json:"type"`
	Class       StringList     `yaml:"class" json:"class,omitempty"`
	Protocol    string         `yaml:"protocol" json:"protocol,omitempty"`
	Deprecation *Deprecation   `yaml:"deprecation" json:"deprecation,omitempty"`
	Extra       map[string]any `yaml:"extra" json:"extra,omitempty"`
	Other       map[string]any `yaml:",inline" json:"-"`
}

// AsExtra flattens the metadata into the open attribute map stored on a
// driver class.
func (m Metadata) AsExtra() map[string]any {
	out := make(map[string]any, len(m.Extra)+len(m.Other)+3)
	for k, v := range m.Other {
		out[k] = v
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	if len(m.Class) > 0 {
		out["class"] = []string(m.Class)
	}
	if m.Protocol != "" {
		out["protocol"] = m.Protocol
	}
	if m.Deprecation != nil {
		out["deprecation"] = map[string]any{"alternate": m.Deprecation.Alternate, "since": m.Deprecation.Since}
	}
	return out
}
