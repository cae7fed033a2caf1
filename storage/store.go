package storage

import (
	"context"
	"time"

	"github.com/openstack-archive/namos/model"
)

type options struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*options)

// WithClock sets the time source used for created and updated stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator sets the identifier generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// Store groups one Table per entity kind over a shared Backend.
type Store struct {
	backend Backend
	now     func() time.Time

	Regions             *Table[model.Region, *model.Region]
	ServiceNodes        *Table[model.ServiceNode, *model.ServiceNode]
	Services            *Table[model.Service, *model.Service]
	ServiceComponents   *Table[model.ServiceComponent, *model.ServiceComponent]
	ServiceWorkers      *Table[model.ServiceWorker, *model.ServiceWorker]
	ConfigSchemas       *Table[model.ConfigSchema, *model.ConfigSchema]
	ConfigFiles         *Table[model.ConfigFile, *model.ConfigFile]
	ConfigFileEntries   *Table[model.ConfigFileEntry, *model.ConfigFileEntry]
	Configs             *Table[model.Config, *model.Config]
	Devices             *Table[model.Device, *model.Device]
	DeviceEndpoints     *Table[model.DeviceEndpoint, *model.DeviceEndpoint]
	DeviceDriverClasses *Table[model.DeviceDriverClass, *model.DeviceDriverClass]
	DeviceDrivers       *Table[model.DeviceDriver, *model.DeviceDriver]
}

// New builds a Store over b.
func New(b Backend, opts ...Option) *Store {
	o := options{now: time.Now, newID: defaultID}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		backend:             b,
		now:                 o.now,
		Regions:             newTable[model.Region](b, o),
		ServiceNodes:        newTable[model.ServiceNode](b, o),
		Services:            newTable[model.Service](b, o),
		ServiceComponents:   newTable[model.ServiceComponent](b, o),
		ServiceWorkers:      newTable[model.ServiceWorker](b, o),
		ConfigSchemas:       newTable[model.ConfigSchema](b, o),
		ConfigFiles:         newTable[model.ConfigFile](b, o),
		ConfigFileEntries:   newTable[model.ConfigFileEntry](b, o),
		Configs:             newTable[model.Config](b, o),
		Devices:             newTable[model.Device](b, o),
		DeviceEndpoints:     newTable[model.DeviceEndpoint](b, o),
		DeviceDriverClasses: newTable[model.DeviceDriverClass](b, o),
		DeviceDrivers:       newTable[model.DeviceDriver](b, o),
	}
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now().UTC() }

// Migrate prepares the backend schema when the backend needs one.
func (s *Store) Migrate(ctx context.Context) error {
	if m, ok := s.backend.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }
