// Package discovery turns a worker's configuration into devices, endpoints
// and driver records.
//
// Each configured driver family known to the driver registry is resolved on
// its own. A driver whose template references an option the worker does not
// have, or whose identifier the registry does not map, is logged and skipped;
// the remaining drivers are still materialized. Store failures abort the pass.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openstack-archive/namos/configfile"
	"github.com/openstack-archive/namos/drivers"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/resolver"
	"github.com/openstack-archive/namos/storage"
)

// Driver outcomes reported to metrics.
const (
	OutcomeResolved = "resolved"
	OutcomeSkipped  = "skipped"
)

// Resolved is one materialized driver.
type Resolved struct {
	Family     string
	Driver     string
	DeviceID   string
	ChildIDs   []string
	EndpointID string
	ClassID    string
	DriverID   string
}

// Skipped is one configured driver that could not be resolved.
type Skipped struct {
	Family string
	Driver string
	Reason string
}

// Result summarizes one resolution pass.
type Result struct {
	Resolved []Resolved
	Skipped  []Skipped
}

// Target identifies the worker whose configuration is resolved.
type Target struct {
	WorkerID string
	RegionID string
}

// Resolver materializes driver records for workers.
type Resolver struct {
	store    *storage.Store
	registry *drivers.Registry
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver.
func New(store *storage.Store, registry *drivers.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		registry: registry,
		logger:   slog.Default().With("component", "discovery"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot builds the resolution snapshot from a worker's Config rows.
// Every row is reachable by its "group.key" name; options of the default
// group are also reachable by their bare key.
func Snapshot(configs []*model.Config) resolver.Snapshot {
	snap := make(resolver.Snapshot, len(configs)*2)
	for _, c := range configs {
		snap[c.Name] = c.Value
	}
	prefix := configfile.DefaultGroup + "."
	for _, c := range configs {
		if key, ok := strings.CutPrefix(c.Name, prefix); ok {
			if _, taken := snap[key]; !taken {
				snap[key] = c.Value
			}
		}
	}
	return snap
}

// Families returns the driver families configured in snap, sorted.
func (r *Resolver) Families(snap resolver.Snapshot) []string {
	var out []string
	for _, family := range r.registry.Families() {
		if _, ok := snap[family]; ok {
			out = append(out, family)
		}
	}
	return out
}

// ResolveWorker loads the worker's Config rows and resolves them.
func (r *Resolver) ResolveWorker(ctx context.Context, target Target) (*Result, error) {
	configs, err := r.store.Configs.List(ctx, func(c *model.Config) bool {
		return c.ServiceWorkerID == target.WorkerID && !c.Deleted()
	})
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "ResolveWorker", "list configs")
	}
	return r.Resolve(ctx, target, Snapshot(configs))
}

// Resolve materializes every driver configured in snap for the target worker.
func (r *Resolver) Resolve(ctx context.Context, target Target, snap resolver.Snapshot) (*Result, error) {
	res := &Result{}
	for _, family := range r.Families(snap) {
		identifiers := resolver.ToList(snap[family])
		for _, id := range identifiers {
			if id == "" {
				continue
			}
			log := r.logger.With("worker_id", target.WorkerID, "family", family, "driver", id)

			resolved, err := r.resolveOne(ctx, target, family, id, snap)
			if err != nil {
				if !skippable(err) {
					return res, err
				}
				log.Warn("Skipping driver", "error", err)
				res.Skipped = append(res.Skipped, Skipped{Family: family, Driver: id, Reason: err.Error()})
				r.metrics.RecordDriver(family, OutcomeSkipped)
				continue
			}
			log.Debug("Resolved driver", "device_id", resolved.DeviceID, "endpoint_id", resolved.EndpointID)
			res.Resolved = append(res.Resolved, *resolved)
			r.metrics.RecordDriver(family, OutcomeResolved)
		}
	}
	return res, nil
}

// skippable reports whether err abandons only the current driver. Store
// failures are not skippable.
func skippable(err error) bool {
	return resolver.IsMissingReference(err) ||
		resolver.IsEvalError(err) ||
		errors.Is(err, drivers.ErrUnknownDriver) ||
		errors.Is(err, drivers.ErrUnmapped) ||
		errors.Is(err, drivers.ErrUnknownVariant) ||
		errors.IsInvalid(err)
}

func (r *Resolver) resolveOne(ctx context.Context, target Target, family, id string, snap resolver.Snapshot) (*Resolved, error) {
	tmpl, err := r.registry.Resolve(family, id)
	if err != nil {
		return nil, err
	}
	sel, err := tmpl.Select(snap)
	if err != nil {
		return nil, err
	}

	// Evaluate everything before writing so a skipped driver leaves no rows.
	deviceName, err := resolver.EvalString(sel.Device.Name, snap)
	if err != nil {
		return nil, err
	}
	if deviceName == "" {
		return nil, errors.WrapInvalid(errors.New("empty device name"), "discovery", "resolveOne", "name device")
	}
	endpointName, err := resolver.EvalString(sel.Endpoint.Name, snap)
	if err != nil {
		return nil, err
	}
	connection, err := evalConnection(sel.Endpoint.Connection, snap)
	if err != nil {
		return nil, err
	}
	childNames, err := evalChildren(sel.ChildDevice, snap)
	if err != nil {
		return nil, err
	}

	out := &Resolved{Family: family, Driver: tmpl.Driver}

	device, err := r.findOrCreateDevice(ctx, &model.Device{
		Base:     model.Base{Name: deviceName},
		Status:   model.StatusActive,
		RegionID: target.RegionID,
	})
	if err != nil {
		return nil, err
	}
	out.DeviceID = device.ID

	for _, name := range childNames {
		child, err := r.findOrCreateDevice(ctx, &model.Device{
			Base:     model.Base{Name: name},
			Status:   model.StatusActive,
			ParentID: device.ID,
			RegionID: target.RegionID,
		})
		if err != nil {
			return nil, err
		}
		out.ChildIDs = append(out.ChildIDs, child.ID)
	}

	endpoint, created, err := r.store.DeviceEndpoints.FindOrCreate(ctx, &model.DeviceEndpoint{
		Base:       model.Base{Name: endpointName},
		DeviceID:   device.ID,
		Type:       sel.EndpointType,
		Connection: connection,
	})
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "resolveOne", "find or create endpoint")
	}
	r.metrics.RecordFindOrCreate(string(errors.KindDeviceEndpoint), created)
	out.EndpointID = endpoint.ID

	class := &model.DeviceDriverClass{
		Base:        model.Base{Name: tmpl.Driver},
		PythonClass: tmpl.Driver,
	}
	if md, ok := r.registry.Metadata(tmpl.Driver); ok {
		class.Type = md.Type
		class.Extra = md.AsExtra()
	}
	class, created, err = r.store.DeviceDriverClasses.FindOrCreate(ctx, class)
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "resolveOne", "find or create driver class")
	}
	r.metrics.RecordFindOrCreate(string(errors.KindDeviceDriverClass), created)
	out.ClassID = class.ID

	drv, created, err := r.store.DeviceDrivers.FindOrCreate(ctx, &model.DeviceDriver{
		Base:                model.Base{Name: tmpl.Driver},
		DeviceID:            device.ID,
		EndpointID:          endpoint.ID,
		DeviceDriverClassID: class.ID,
		ServiceWorkerID:     target.WorkerID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "resolveOne", "find or create driver")
	}
	r.metrics.RecordFindOrCreate(string(errors.KindDeviceDriver), created)
	out.DriverID = drv.ID
	return out, nil
}

func (r *Resolver) findOrCreateDevice(ctx context.Context, d *model.Device) (*model.Device, error) {
	device, created, err := r.store.Devices.FindOrCreate(ctx, d)
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "findOrCreateDevice", "find or create device")
	}
	r.metrics.RecordFindOrCreate(string(errors.KindDevice), created)
	if created {
		r.logger.Info("Device created", "device", device.Name, "device_id", device.ID)
	}
	return device, nil
}

// evalConnection resolves each connection attribute. An absent option fails
// the whole driver.
func evalConnection(attrs []drivers.Attr, snap resolver.Snapshot) (map[string]any, error) {
	conn := make(map[string]any, len(attrs))
	for _, a := range attrs {
		v, err := resolver.Eval(a.Source, snap)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", a.Name, err)
		}
		conn[a.Name] = v
	}
	return conn, nil
}

func evalChildren(spec *drivers.ChildDeviceSpec, snap resolver.Snapshot) ([]string, error) {
	if spec == nil {
		return nil, nil
	}
	keys, err := resolver.Eval(spec.Key, snap)
	if err != nil {
		return nil, err
	}
	base, err := resolver.EvalString(spec.BaseName, snap)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range resolver.ToList(keys) {
		if k == "" {
			continue
		}
		names = append(names, base+"-"+k)
	}
	return names, nil
}
