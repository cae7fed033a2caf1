// Package drivers holds the driver schema: for each configuration option
// that names a backend driver, the template that turns a worker's
// configuration into a device, an endpoint and a driver class.
//
// The registry is built once by Load or Default and never mutated.
package drivers

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openstack-archive/namos/resolver"
)

//go:embed schema.yaml
var schemaYAML []byte

//go:embed metadata.yaml
var metadataYAML []byte

var (
	// ErrUnknownFamily is returned for an option that is not a driver family.
	ErrUnknownFamily = errors.New("unknown driver family")
	// ErrUnknownDriver is returned for a driver identifier absent from its family.
	ErrUnknownDriver = errors.New("unknown driver")
	// ErrUnmapped is returned for a known driver without a resolution template.
	ErrUnmapped = errors.New("driver has no resolution template")
	// ErrUnknownVariant is returned when an endpoint type selects no variant.
	ErrUnknownVariant = errors.New("unknown endpoint type")
)

// DeviceSpec names a device.
type DeviceSpec struct {
	Name resolver.Expr
}

// ChildDeviceSpec fans a device out into children, one per Key item,
// named "<BaseName>-<item>".
type ChildDeviceSpec struct {
	Key      resolver.Expr
	BaseName resolver.Expr
}

// Attr is one connection attribute and the expression producing its value.
type Attr struct {
	Name   string
	Source resolver.Expr
}

// EndpointSpec describes one endpoint shape.
type EndpointSpec struct {
	Name        resolver.Expr
	Connection  []Attr
	Device      *DeviceSpec
	ChildDevice *ChildDeviceSpec
}

// Template is a leaf resolution template.
// When Type is set, its resolved value selects one of Variants;
// otherwise Endpoint is used directly.
type Template struct {
	Family   string
	Driver   string
	Endpoint EndpointSpec
	Type     resolver.Expr
	Variants map[string]EndpointSpec
	Device   *DeviceSpec
}

// Selection is a template narrowed to one endpoint shape.
type Selection struct {
	EndpointType string
	Endpoint     EndpointSpec
	Device       DeviceSpec
	ChildDevice  *ChildDeviceSpec
}

// Select picks the endpoint shape for snap. A device override on the
// endpoint or variant wins over the template's device.
func (t *Template) Select(snap resolver.Snapshot) (Selection, error) {
	spec := t.Endpoint
	var endpointType string
	if t.Type != nil {
		v, err := resolver.EvalString(t.Type, snap)
		if err != nil {
			return Selection{}, err
		}
		variant, ok := t.Variants[v]
		if !ok {
			return Selection{}, fmt.Errorf("%w %q for %s", ErrUnknownVariant, v, t.Driver)
		}
		spec = variant
		endpointType = v
	}

	sel := Selection{EndpointType: endpointType, Endpoint: spec, ChildDevice: spec.ChildDevice}
	switch {
	case spec.Device != nil:
		sel.Device = *spec.Device
	case t.Device != nil:
		sel.Device = *t.Device
	}
	return sel, nil
}

type entry struct {
	alias    string
	template *Template
}

// Registry is the immutable driver schema.
type Registry struct {
	families map[string]map[string]entry
	metadata map[string]Metadata
}

// Families returns the driver family names in sorted order.
func (r *Registry) Families() []string {
	out := make([]string, 0, len(r.families))
	for f := range r.families {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasFamily reports whether name is a driver family.
func (r *Registry) HasFamily(name string) bool {
	_, ok := r.families[name]
	return ok
}

// Resolve returns the leaf template for driver in family, following an alias.
// The returned template's Driver is the canonical identifier.
func (r *Registry) Resolve(family, driver string) (*Template, error) {
	drivers, ok := r.families[family]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFamily, family)
	}
	e, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("%w %q in %s", ErrUnknownDriver, driver, family)
	}
	if e.alias != "" {
		targetFamily, targetDriver, _ := strings.Cut(e.alias, ":")
		e = r.families[targetFamily][targetDriver]
	}
	if e.template == nil {
		return nil, fmt.Errorf("%s:%s: %w", family, driver, ErrUnmapped)
	}
	return e.template, nil
}

// Metadata returns the descriptive data for a canonical driver identifier.
func (r *Registry) Metadata(driver string) (Metadata, bool) {
	m, ok := r.metadata[driver]
	return m, ok
}

var loadDefault = sync.OnceValues(func() (*Registry, error) {
	return Load(schemaYAML, metadataYAML, resolver.DefaultFuncs())
})

// Default returns the registry built from the embedded schema.
func Default() (*Registry, error) {
	return loadDefault()
}

// Load parses a schema document and a metadata document.
func Load(schema, metadata []byte, funcs resolver.FuncMap) (*Registry, error) {
	var doc struct {
		Families map[string]map[string]*rawTemplate `yaml:"families"`
	}
	if err := yaml.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("drivers: parse schema: %w", err)
	}
	var meta struct {
		Drivers map[string]Metadata `yaml:"drivers"`
	}
	if len(metadata) > 0 {
		if err := yaml.Unmarshal(metadata, &meta); err != nil {
			return nil, fmt.Errorf("drivers: parse metadata: %w", err)
		}
	}

	r := &Registry{
		families: make(map[string]map[string]entry, len(doc.Families)),
		metadata: meta.Drivers,
	}
	if r.metadata == nil {
		r.metadata = map[string]Metadata{}
	}

	for family, drivers := range doc.Families {
		r.families[family] = make(map[string]entry, len(drivers))
		for driver, raw := range drivers {
			e, err := raw.build(family, driver, funcs)
			if err != nil {
				return nil, fmt.Errorf("drivers: %s:%s: %w", family, driver, err)
			}
			r.families[family][driver] = e
		}
	}

	if err := r.checkAliases(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkAliases enforces single-hop aliases that land on an existing entry.
func (r *Registry) checkAliases() error {
	for family, drivers := range r.families {
		for driver, e := range drivers {
			if e.alias == "" {
				continue
			}
			targetFamily, targetDriver, ok := strings.Cut(e.alias, ":")
			if !ok || targetFamily == "" || targetDriver == "" {
				return fmt.Errorf("drivers: %s:%s: alias %q is not family:driver", family, driver, e.alias)
			}
			target, ok := r.families[targetFamily][targetDriver]
			if !ok {
				return fmt.Errorf("drivers: %s:%s: alias target %q does not exist", family, driver, e.alias)
			}
			if target.alias != "" {
				return fmt.Errorf("drivers: %s:%s: alias target %q is itself an alias", family, driver, e.alias)
			}
		}
	}
	return nil
}
