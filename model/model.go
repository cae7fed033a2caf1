// Package model defines the topology entities recorded by the conductor and
// the natural keys the store uses to keep them unique.
package model

import (
	"strings"
	"time"

	"github.com/openstack-archive/namos/errors"
)

// KeySep joins the fields of a composite natural key.
const KeySep = "\x1f"

// Key joins natural key parts with KeySep.
func Key(parts ...string) string {
	return strings.Join(parts, KeySep)
}

// Base carries the fields every entity shares.
type Base struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Meta returns the shared fields.
func (b *Base) Meta() *Base { return b }

// Deleted reports whether the row carries a soft-delete marker.
func (b *Base) Deleted() bool { return b.DeletedAt != nil }

// LastSeen is UpdatedAt when set, else CreatedAt.
func (b *Base) LastSeen() time.Time {
	if b.UpdatedAt != nil {
		return *b.UpdatedAt
	}
	return b.CreatedAt
}

// Entity is implemented by every stored type.
type Entity interface {
	Kind() errors.Kind
	NaturalKey() string
	Meta() *Base
}

// Region is a deployment region or site.
type Region struct {
	Base
	KeystoneRegionID string `json:"keystone_region_id"`
}

func (*Region) Kind() errors.Kind    { return errors.KindRegion }
func (r *Region) NaturalKey() string { return r.Name }

// ServiceNode is a physical or virtual host.
type ServiceNode struct {
	Base
	FQDN        string   `json:"fqdn"`
	IPs         []string `json:"ips,omitempty"`
	Description string   `json:"description,omitempty"`
	RegionID    string   `json:"region_id,omitempty"`
}

func (*ServiceNode) Kind() errors.Kind    { return errors.KindServiceNode }
func (n *ServiceNode) NaturalKey() string { return n.Name }

// Service is a logical product such as nova or cinder.
type Service struct {
	Base
	KeystoneServiceID string `json:"keystone_service_id"`
}

func (*Service) Kind() errors.Kind    { return errors.KindService }
func (s *Service) NaturalKey() string { return s.Name }

// Component categories.
const (
	CategoryController = "controller"
	CategoryCompute    = "compute"
	CategoryStorage    = "storage"
	CategoryNetwork    = "network"
)

// ServiceComponent is one program type on one node for one service.
type ServiceComponent struct {
	Base
	NodeID      string `json:"node_id"`
	ServiceID   string `json:"service_id"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

func (*ServiceComponent) Kind() errors.Kind { return errors.KindServiceComponent }
func (c *ServiceComponent) NaturalKey() string {
	return Key(c.Name, c.NodeID, c.ServiceID)
}

// ServiceWorker is one running process of a component.
// PID holds the worker's registration identification.
type ServiceWorker struct {
	Base
	PID                string `json:"pid"`
	Host               string `json:"host"`
	ServiceComponentID string `json:"service_component_id"`
	IsLauncher         bool   `json:"is_launcher"`
}

func (*ServiceWorker) Kind() errors.Kind { return errors.KindServiceWorker }
func (w *ServiceWorker) NaturalKey() string {
	return Key(w.PID, w.ServiceComponentID)
}

// ConfigSchema is the canonical definition of one recognized option.
type ConfigSchema struct {
	Base
	Help         string `json:"help"`
	Type         string `json:"type"`
	GroupName    string `json:"group_name"`
	Namespace    string `json:"namespace"`
	Project      string `json:"project,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
	Required     bool   `json:"required"`
	Secret       bool   `json:"secret"`
	Mutable      bool   `json:"mutable"`
}

func (*ConfigSchema) Kind() errors.Kind { return errors.KindConfigSchema }
func (s *ConfigSchema) NaturalKey() string {
	return Key(s.GroupName, s.Name, s.Namespace)
}

// ConfigFile is the raw text of one configuration file seen on a node.
type ConfigFile struct {
	Base
	File               string `json:"file"`
	ServiceComponentID string `json:"service_component_id"`
	ServiceNodeID      string `json:"service_node_id"`
}

func (*ConfigFile) Kind() errors.Kind { return errors.KindConfigFile }
func (f *ConfigFile) NaturalKey() string {
	return Key(f.Name, f.ServiceNodeID)
}

// ConfigFileEntry is one key/value line parsed from a ConfigFile.
// Name is "group.key".
type ConfigFileEntry struct {
	Base
	Value              string `json:"value"`
	ConfigFileID       string `json:"oslo_config_file_id"`
	ConfigSchemaID     string `json:"oslo_config_schema_id,omitempty"`
	ServiceComponentID string `json:"service_component_id"`
}

func (*ConfigFileEntry) Kind() errors.Kind { return errors.KindConfigFileEntry }
func (e *ConfigFileEntry) NaturalKey() string {
	return Key(e.ServiceComponentID, e.ConfigFileID, e.Name)
}

// Config is one effective option value bound to a worker.
// Name is "group.key".
type Config struct {
	Base
	Value             string `json:"value"`
	ConfigSchemaID    string `json:"oslo_config_schema_id,omitempty"`
	ConfigFileEntryID string `json:"oslo_config_file_entry_id,omitempty"`
	ServiceWorkerID   string `json:"service_worker_id"`
}

func (*Config) Kind() errors.Kind { return errors.KindConfig }
func (c *Config) NaturalKey() string {
	return Key(c.ServiceWorkerID, c.Name)
}

// Device status values.
const (
	StatusActive = "active"
)

// Device is a discovered infrastructure resource.
type Device struct {
	Base
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	ParentID    string `json:"parent_id,omitempty"`
	RegionID    string `json:"region_id"`
}

func (*Device) Kind() errors.Kind    { return errors.KindDevice }
func (d *Device) NaturalKey() string { return d.Name }

// DeviceEndpoint is one connection surface of a Device.
type DeviceEndpoint struct {
	Base
	DeviceID   string         `json:"device_id"`
	Type       string         `json:"type,omitempty"`
	Connection map[string]any `json:"connection"`
}

func (*DeviceEndpoint) Kind() errors.Kind { return errors.KindDeviceEndpoint }
func (e *DeviceEndpoint) NaturalKey() string {
	return Key(e.DeviceID, e.Type)
}

// DeviceDriverClass describes a driver implementation.
type DeviceDriverClass struct {
	Base
	PythonClass string `json:"python_class"`
	Type        string `json:"type"`
}

func (*DeviceDriverClass) Kind() errors.Kind    { return errors.KindDeviceDriverClass }
func (c *DeviceDriverClass) NaturalKey() string { return c.Name }

// DeviceDriver records that a worker drives a device through an endpoint
// using a driver class.
type DeviceDriver struct {
	Base
	DeviceID            string `json:"device_id"`
	EndpointID          string `json:"endpoint_id"`
	DeviceDriverClassID string `json:"device_driver_class_id"`
	ServiceWorkerID     string `json:"service_worker_id"`
}

func (*DeviceDriver) Kind() errors.Kind { return errors.KindDeviceDriver }
func (d *DeviceDriver) NaturalKey() string {
	return Key(d.DeviceID, d.EndpointID, d.DeviceDriverClassID, d.ServiceWorkerID)
}
