// Package configfile parses the INI-style configuration files that workers
// report at registration into group/key/value triples.
package configfile

import (
	"strings"

	"gopkg.in/ini.v1"

	"github.com/openstack-archive/namos/errors"
)

// DefaultGroup holds keys that appear before any section header.
var DefaultGroup = ini.DefaultSection

// Entry is one key of one group.
type Entry struct {
	Group string
	Key   string
	Value string
}

// Name is the dotted option name ("database.connection").
func (e Entry) Name() string { return e.Group + "." + e.Key }

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:        true,
	AllowPythonMultilineValues: true,
	AllowShadows:               true,
	SkipUnrecognizableLines:    false,
	UnescapeValueDoubleQuotes:  true,
}

// Parse reads content and returns its entries grouped by section in file
// order, the default group first. A key repeated within a section keeps
// every value, rendered as a list.
func Parse(content string) ([]Entry, error) {
	f, err := ini.LoadSources(loadOptions, []byte(content))
	if err != nil {
		return nil, errors.WrapInvalid(err, "configfile", "Parse", "parse config file")
	}

	var out []Entry
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			out = append(out, Entry{
				Group: section.Name(),
				Key:   key.Name(),
				Value: value(key),
			})
		}
	}
	return out, nil
}

func value(key *ini.Key) string {
	vals := key.ValueWithShadows()
	if len(vals) <= 1 {
		return strings.TrimSpace(key.Value())
	}
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + strings.TrimSpace(v) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Groups indexes entries as group -> key -> value.
func Groups(entries []Entry) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, e := range entries {
		g, ok := out[e.Group]
		if !ok {
			g = make(map[string]string)
			out[e.Group] = g
		}
		g[e.Key] = e.Value
	}
	return out
}
