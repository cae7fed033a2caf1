package drivers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openstack-archive/namos/resolver"
)

type rawDevice struct {
	Name any `yaml:"name"`
}

type rawChild struct {
	Key      any `yaml:"key"`
	BaseName any `yaml:"base_name"`
}

type rawSpec struct {
	Name        any            `yaml:"name"`
	Connection  map[string]any `yaml:"connection"`
	Device      *rawDevice     `yaml:"device"`
	ChildDevice *rawChild      `yaml:"child_device"`
}

type rawEndpoint struct {
	rawSpec  `yaml:",inline"`
	Type     any                `yaml:"type"`
	Variants map[string]rawSpec `yaml:"variants"`
}

type rawTemplate struct {
	Alias    string       `yaml:"alias"`
	Endpoint *rawEndpoint `yaml:"endpoint"`
	Device   *rawDevice   `yaml:"device"`
}

func (raw *rawTemplate) build(family, driver string, funcs resolver.FuncMap) (entry, error) {
	if raw == nil {
		return entry{}, nil
	}
	if raw.Alias != "" {
		if raw.Endpoint != nil || raw.Device != nil {
			return entry{}, errors.New("alias must not carry a template")
		}
		return entry{alias: raw.Alias}, nil
	}
	if raw.Endpoint == nil {
		return entry{}, errors.New("template has no endpoint")
	}

	t := &Template{Family: family, Driver: driver}
	var err error
	if t.Device, err = raw.Device.build(funcs); err != nil {
		return entry{}, fmt.Errorf("device: %w", err)
	}
	if t.Type, err = resolver.Parse(raw.Endpoint.Type, funcs); err != nil {
		return entry{}, fmt.Errorf("endpoint type: %w", err)
	}

	if t.Type == nil {
		if len(raw.Endpoint.Variants) > 0 {
			return entry{}, errors.New("variants need an endpoint type")
		}
		if t.Endpoint, err = raw.Endpoint.rawSpec.build(funcs); err != nil {
			return entry{}, fmt.Errorf("endpoint: %w", err)
		}
		if t.Endpoint.Device == nil && t.Device == nil {
			return entry{}, errors.New("no device name")
		}
		return entry{template: t}, nil
	}

	if len(raw.Endpoint.Variants) == 0 {
		return entry{}, errors.New("endpoint type without variants")
	}
	t.Variants = make(map[string]EndpointSpec, len(raw.Endpoint.Variants))
	for name, v := range raw.Endpoint.Variants {
		spec, err := v.build(funcs)
		if err != nil {
			return entry{}, fmt.Errorf("variant %s: %w", name, err)
		}
		if spec.Device == nil && t.Device == nil {
			return entry{}, fmt.Errorf("variant %s: no device name", name)
		}
		t.Variants[name] = spec
	}
	return entry{template: t}, nil
}

func (raw rawSpec) build(funcs resolver.FuncMap) (EndpointSpec, error) {
	var (
		spec EndpointSpec
		err  error
	)
	if spec.Name, err = resolver.Parse(raw.Name, funcs); err != nil {
		return spec, fmt.Errorf("name: %w", err)
	}
	if spec.Name == nil {
		return spec, errors.New("endpoint has no name")
	}

	keys := make([]string, 0, len(raw.Connection))
	for k := range raw.Connection {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		src, err := resolver.Parse(raw.Connection[k], funcs)
		if err != nil {
			return spec, fmt.Errorf("connection %s: %w", k, err)
		}
		if src == nil {
			src = resolver.Symbol{Name: k}
		}
		spec.Connection = append(spec.Connection, Attr{Name: k, Source: src})
	}

	if spec.Device, err = raw.Device.build(funcs); err != nil {
		return spec, fmt.Errorf("device: %w", err)
	}
	if raw.ChildDevice != nil {
		child := &ChildDeviceSpec{}
		if child.Key, err = resolver.Parse(raw.ChildDevice.Key, funcs); err != nil {
			return spec, fmt.Errorf("child_device key: %w", err)
		}
		if child.BaseName, err = resolver.Parse(raw.ChildDevice.BaseName, funcs); err != nil {
			return spec, fmt.Errorf("child_device base_name: %w", err)
		}
		if child.Key == nil || child.BaseName == nil {
			return spec, errors.New("child_device needs key and base_name")
		}
		spec.ChildDevice = child
	}
	return spec, nil
}

func (raw *rawDevice) build(funcs resolver.FuncMap) (*DeviceSpec, error) {
	if raw == nil {
		return nil, nil
	}
	name, err := resolver.Parse(raw.Name, funcs)
	if err != nil {
		return nil, err
	}
	if name == nil {
		return nil, errors.New("device has no name")
	}
	return &DeviceSpec{Name: name}, nil
}
