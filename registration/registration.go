// Package registration materializes a worker's registration payload into
// the topology graph.
//
// Register runs the stages in order: region, service graph (node, service,
// component, worker), configuration files and options, driver resolution,
// acknowledgement and cleanup of dead workers in the component. Every write
// is a find-or-create on the entity's natural key, so a registration can be
// replayed in full and concurrent duplicate registrations converge on the
// same rows.
package registration

import (
	"context"
	"log/slog"
	"time"

	"github.com/openstack-archive/namos/discovery"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/pkg/cache"
	"github.com/openstack-archive/namos/storage"
)

// Stage names reported to metrics.
const (
	StageRegion  = "region"
	StageService = "service"
	StageConfig  = "config"
	StageDrivers = "drivers"
	StageAck     = "ack"
	StageCleanup = "cleanup"
)

// Acknowledger tells a worker its registration completed.
type Acknowledger interface {
	RegistrationAck(ctx context.Context, identification string) error
}

// Result reports the rows a registration resolved to.
type Result struct {
	RegionID    string
	NodeID      string
	ServiceID   string
	ComponentID string
	WorkerID    string
	Drivers     *discovery.Result
	Swept       int
}

// Pipeline runs registrations against a store.
type Pipeline struct {
	store         *storage.Store
	resolver      *discovery.Resolver
	tracker       *liveness.Tracker
	ack           Acknowledger
	defaultRegion string
	accept        func(project string) bool
	schemas       *cache.TTL[schemaIndex]
	logger        *slog.Logger
	metrics       *metric.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefaultRegion names the region used when a payload carries none.
func WithDefaultRegion(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.defaultRegion = name
		}
	}
}

// WithAcknowledger sets the callback used once a registration completes.
func WithAcknowledger(a Acknowledger) Option {
	return func(p *Pipeline) { p.ack = a }
}

// WithProjectFilter restricts the projects that may register.
func WithProjectFilter(accept func(project string) bool) Option {
	return func(p *Pipeline) { p.accept = accept }
}

// WithSchemaCache reuses a project's schema index for ttl between
// registrations. Lookups are counted in r when it is not nil. LoadSchemas
// drops the cached index of the project it loads.
func WithSchemaCache(ttl time.Duration, r metric.Registrar) Option {
	return func(p *Pipeline) {
		if ttl <= 0 {
			return
		}
		opts := []cache.Option[schemaIndex]{cache.WithClock[schemaIndex](p.store.Now)}
		if r != nil {
			opts = append(opts, cache.WithMetrics[schemaIndex](r, "schemas"))
		}
		c, err := cache.New(ttl, opts...)
		if err != nil {
			p.logger.Warn("Schema cache disabled", "error", err)
			return
		}
		p.schemas = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline.
func New(store *storage.Store, resolver *discovery.Resolver, tracker *liveness.Tracker, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		resolver:      resolver,
		tracker:       tracker,
		defaultRegion: "RegionOne",
		logger:        slog.Default().With("component", "registration"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register runs every stage for info and returns the resolved identifiers.
// Driver skips, acknowledgement failures and cleanup failures are logged and
// do not fail the registration.
func (p *Pipeline) Register(ctx context.Context, info *model.RegistrationInfo) (*Result, error) {
	res, err := p.register(ctx, info)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.RecordRegistration(outcome)
	return res, err
}

func (p *Pipeline) register(ctx context.Context, info *model.RegistrationInfo) (*Result, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if p.accept != nil && !p.accept(info.ProjectName) {
		return nil, errors.Validation("project_name", "service "+info.ProjectName+" is not enabled")
	}

	log := p.logger.With("project", info.ProjectName, "prog", info.ProgName, "identification", info.Identification)
	log.Info("Registering worker")
	res := &Result{}

	var region *model.Region
	if err := p.stage(StageRegion, func() error {
		var err error
		region, err = p.processRegion(ctx, info)
		return err
	}); err != nil {
		return nil, err
	}
	res.RegionID = region.ID

	var graph *serviceGraph
	if err := p.stage(StageService, func() error {
		var err error
		graph, err = p.processService(ctx, region, info)
		return err
	}); err != nil {
		return nil, err
	}
	res.NodeID = graph.node.ID
	res.ServiceID = graph.service.ID
	res.ComponentID = graph.component.ID
	res.WorkerID = graph.worker.ID

	var configs []*model.Config
	if err := p.stage(StageConfig, func() error {
		var err error
		configs, err = p.processConfigs(ctx, graph, info)
		return err
	}); err != nil {
		return res, err
	}

	if err := p.stage(StageDrivers, func() error {
		snap := discovery.Snapshot(configs)
		for name, opt := range info.ConfigDict {
			if _, ok := snap[name]; !ok {
				snap[name] = opt.Effective()
			}
		}
		var err error
		res.Drivers, err = p.resolver.Resolve(ctx, discovery.Target{WorkerID: graph.worker.ID, RegionID: region.ID}, snap)
		return err
	}); err != nil {
		return res, err
	}

	if p.ack != nil {
		_ = p.stage(StageAck, func() error {
			if err := p.ack.RegistrationAck(ctx, info.Identification); err != nil {
				log.Warn("Registration acknowledgement failed", "error", err)
			}
			return nil
		})
	}

	if p.tracker != nil {
		_ = p.stage(StageCleanup, func() error {
			n, err := p.tracker.Sweep(ctx, graph.component.ID)
			res.Swept = n
			if err != nil {
				log.Warn("Cleanup of dead workers failed", "component_id", graph.component.ID, "error", err)
			}
			return nil
		})
	}

	log.Info("Worker registered",
		"worker_id", res.WorkerID,
		"drivers", len(res.Drivers.Resolved),
		"skipped", len(res.Drivers.Skipped))
	return res, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.RecordStage(name, time.Since(start))
	if err != nil {
		return errors.Wrap(err, "registration", "Register", name+" stage")
	}
	return nil
}

// processRegion resolves the payload's region, or the default region.
func (p *Pipeline) processRegion(ctx context.Context, info *model.RegistrationInfo) (*model.Region, error) {
	name := info.RegionName
	if name == "" {
		name = p.defaultRegion
	}
	region, created, err := p.store.Regions.FindOrCreate(ctx, &model.Region{Base: model.Base{Name: name}})
	if err != nil {
		return nil, err
	}
	p.record(errors.KindRegion, created, region.Name, region.ID)
	return region, nil
}

// AddRegion creates a region. An existing name is an AlreadyExist error.
func (p *Pipeline) AddRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	if region == nil || region.Name == "" {
		return nil, errors.Validation("region.name", "must not be empty")
	}
	return p.store.Regions.Create(ctx, region)
}

func (p *Pipeline) record(kind errors.Kind, created bool, name, id string) {
	p.metrics.RecordFindOrCreate(string(kind), created)
	if created {
		p.logger.Info("Created", "kind", kind, "name", name, "id", id)
		return
	}
	p.logger.Debug("Reused", "kind", kind, "name", name, "id", id)
}
