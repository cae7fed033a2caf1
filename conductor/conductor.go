// Package conductor serves the namos RPC operations over NATS.
//
// Every operation in rpcapi.Operations is answered on "<topic>.<op>" in a
// queue group, so several conductors share the load. Registrations run the
// pipeline inline; the acknowledgement back to the worker is queued on a
// callback pool so a slow worker cannot hold the request. A background loop
// sweeps workers that stopped reporting.
package conductor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openstack-archive/namos/discovery"
	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/liveness"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/natsclient"
	"github.com/openstack-archive/namos/pkg/worker"
	"github.com/openstack-archive/namos/registration"
	"github.com/openstack-archive/namos/rpcapi"
	"github.com/openstack-archive/namos/service"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/topology"
)

// DefaultQueue is the queue group conductors subscribe in.
const DefaultQueue = "namos-conductor"

// Transport is the NATS surface the conductor needs. natsclient.Client
// implements it.
type Transport interface {
	rpcapi.Transport
	Handle(ctx context.Context, subject, queue string, handler natsclient.Handler) error
}

type endpoint func(ctx context.Context, data []byte) (any, error)

// Server answers conductor operations.
type Server struct {
	*service.BaseService

	transport Transport
	store     *storage.Store
	pipeline  *registration.Pipeline
	tracker   *liveness.Tracker
	reader    *topology.Reader
	callbacks *rpcapi.WorkerClient
	acks      *worker.Pool[string]
	endpoints map[string]endpoint

	cfg     options
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type options struct {
	topic           string
	queue           string
	defaultRegion   string
	accept          func(string) bool
	callbackTimeout time.Duration
	callbackWorkers int
	schemaCacheTTL  time.Duration
	reportInterval  time.Duration
	deadSince       time.Duration
	sweepInterval   time.Duration
	logger          *slog.Logger
	registry        *metric.MetricsRegistry
}

// Option configures a Server.
type Option func(*options)

// WithTopic sets the subject prefix.
func WithTopic(topic string) Option {
	return func(o *options) {
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithQueue sets the queue group.
func WithQueue(queue string) Option {
	return func(o *options) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithDefaultRegion names the region used by payloads without one.
func WithDefaultRegion(name string) Option {
	return func(o *options) { o.defaultRegion = name }
}

// WithProjectFilter restricts the projects that may register.
func WithProjectFilter(accept func(project string) bool) Option {
	return func(o *options) { o.accept = accept }
}

// WithCallbackTimeout bounds reverse-channel requests.
func WithCallbackTimeout(d time.Duration) Option {
	return func(o *options) { o.callbackTimeout = d }
}

// WithCallbackWorkers sets how many goroutines deliver acknowledgements.
func WithCallbackWorkers(n int) Option {
	return func(o *options) { o.callbackWorkers = n }
}

// WithSchemaCacheTTL caches each project's option schemas for d during
// registration. Zero disables the cache.
func WithSchemaCacheTTL(d time.Duration) Option {
	return func(o *options) { o.schemaCacheTTL = d }
}

// WithLiveness sets the report interval, the silence after which a worker
// is swept, and how often the sweep runs.
func WithLiveness(report, deadSince, sweep time.Duration) Option {
	return func(o *options) {
		o.reportInterval = report
		o.deadSince = deadSince
		o.sweepInterval = sweep
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records operations and pool activity in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// New wires a Server over store, resolving drivers with resolver.
func New(store *storage.Store, resolver *discovery.Resolver, transport Transport, opts ...Option) *Server {
	cfg := options{
		topic:           rpcapi.DefaultTopic,
		queue:           DefaultQueue,
		callbackTimeout: 5 * time.Second,
		callbackWorkers: 4,
		logger:          slog.Default().With("component", "conductor"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var m *metric.Metrics
	if cfg.registry != nil {
		m = cfg.registry.CoreMetrics()
	}

	s := &Server{
		transport: transport,
		store:     store,
		cfg:       cfg,
		logger:    cfg.logger,
		metrics:   m,
	}
	s.BaseService = service.NewBaseService("conductor",
		service.WithLogger(cfg.logger),
		service.WithMetrics(m),
		service.WithHealthInterval(0))

	s.tracker = liveness.NewTracker(store,
		liveness.WithReportInterval(cfg.reportInterval),
		liveness.WithDeadSince(cfg.deadSince),
		liveness.WithLogger(cfg.logger.With("stage", "liveness")),
		liveness.WithMetrics(m))
	s.callbacks = rpcapi.NewWorkerClient(transport, cfg.callbackTimeout, cfg.logger, m)

	poolOpts := []worker.Option[string]{
		worker.WithJobTimeout[string](cfg.callbackTimeout),
		worker.WithLogger[string](cfg.logger),
	}
	if cfg.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[string](cfg.registry, "callbacks"))
	}
	s.acks = worker.NewPool(cfg.callbackWorkers, 0, s.callbacks.RegistrationAck, poolOpts...)

	pipeOpts := []registration.Option{
		registration.WithAcknowledger(s),
		registration.WithLogger(cfg.logger.With("stage", "registration")),
		registration.WithMetrics(m),
		registration.WithDefaultRegion(cfg.defaultRegion),
	}
	if cfg.accept != nil {
		pipeOpts = append(pipeOpts, registration.WithProjectFilter(cfg.accept))
	}
	if cfg.schemaCacheTTL > 0 {
		var r metric.Registrar
		if cfg.registry != nil {
			r = cfg.registry
		}
		pipeOpts = append(pipeOpts, registration.WithSchemaCache(cfg.schemaCacheTTL, r))
	}
	s.pipeline = registration.New(store, resolver, s.tracker, pipeOpts...)
	s.reader = topology.New(store, topology.WithTracker(s.tracker), topology.WithLogger(cfg.logger))

	s.Monitor().Register("store", s.checkStore)
	s.Monitor().Register("callbacks", s.checkCallbacks)

	s.endpoints = s.routes()
	return s
}

// Tracker returns the liveness tracker.
func (s *Server) Tracker() *liveness.Tracker { return s.tracker }

// RegistrationAck queues an acknowledgement for identification.
func (s *Server) RegistrationAck(_ context.Context, identification string) error {
	return s.acks.Submit(identification)
}

// Start subscribes every operation, starts the callback pool and the
// sweep loop. The server runs until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.acks.Start(ctx); err != nil {
		cancel()
		return errors.WrapFatal(err, "conductor", "Start", "start callback pool")
	}
	for _, op := range rpcapi.Operations {
		subject := rpcapi.Subject(s.cfg.topic, op)
		if err := s.transport.Handle(ctx, subject, s.cfg.queue, s.handler(op)); err != nil {
			cancel()
			_ = s.acks.Stop(time.Second)
			return errors.Wrap(err, "conductor", "Start", "subscribe "+subject)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tracker.Run(ctx, s.cfg.sweepInterval)
	}()

	s.cancel = cancel
	s.running = true
	s.logger.Info("Conductor listening",
		"topic", s.cfg.topic,
		"queue", s.cfg.queue,
		"operations", len(rpcapi.Operations))
	return s.BaseService.Start(ctx)
}

// Stop ends the sweep loop and drains the callback pool within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	err := s.acks.Stop(timeout)
	s.cancel()
	s.wg.Wait()
	_ = s.BaseService.Stop(timeout)
	if err != nil {
		return errors.Wrap(err, "conductor", "Stop", "stop callback pool")
	}
	return nil
}

func (s *Server) handler(op string) natsclient.Handler {
	ep := s.endpoints[op]
	return func(ctx context.Context, data []byte) []byte {
		start := time.Now()
		result, err := ep(ctx, data)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			level := slog.LevelWarn
			if errors.IsNotFound(err) || errors.IsValidation(err) || errors.IsAlreadyExist(err) {
				level = slog.LevelDebug
			}
			s.logger.Log(ctx, level, "Operation failed", "operation", op, "error", err)
		}
		s.metrics.RecordRPC(op, outcome, time.Since(start))
		return rpcapi.NewResponse(result, err)
	}
}

// bind decodes the request into A before calling fn.
func bind[A any](fn func(ctx context.Context, args A) (any, error)) endpoint {
	return func(ctx context.Context, data []byte) (any, error) {
		var args A
		if len(data) > 0 {
			if err := json.Unmarshal(data, &args); err != nil {
				return nil, errors.Validation("arguments", err.Error())
			}
		}
		return fn(ctx, args)
	}
}

func (s *Server) checkStore(ctx context.Context) error {
	if _, err := s.store.Regions.First(ctx, nil); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *Server) checkCallbacks(context.Context) error {
	st := s.acks.Stats()
	if st.QueueDepth >= st.QueueSize {
		return worker.ErrQueueFull
	}
	return nil
}
