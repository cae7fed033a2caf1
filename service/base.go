// Package service gives the namos processes a shared lifecycle: a status
// that moves stopped, starting, running, stopping; a periodic health
// evaluation; and the status gauge exported to Prometheus.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openstack-archive/namos/health"
	"github.com/openstack-archive/namos/metric"
)

// Status is the lifecycle state of a service.
type Status int

// Lifecycle states.
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info is a snapshot of a running service.
type Info struct {
	Name               string        `json:"name"`
	Status             string        `json:"status"`
	Uptime             time.Duration `json:"uptime"`
	StartTime          time.Time     `json:"start_time"`
	HealthChecks       int64         `json:"health_checks"`
	FailedHealthChecks int64         `json:"failed_health_checks"`
}

// Service is what cmd binaries start and stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// Option configures a BaseService.
type Option func(*BaseService)

// BaseService tracks the lifecycle of a service and evaluates its health
// monitor on an interval. Services embed it and call Start and Stop around
// their own work.
type BaseService struct {
	name           string
	metrics        *metric.Metrics
	logger         *slog.Logger
	monitor        *health.Monitor
	healthInterval time.Duration
	onHealthChange func(bool)

	status    atomic.Value // Status
	startTime atomic.Value // time.Time
	last      atomic.Value // health.Status

	healthChecks       atomic.Int64
	failedHealthChecks atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBaseService creates a stopped service.
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:           name,
		healthInterval: 30 * time.Second,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.monitor == nil {
		s.monitor = health.NewMonitor(name, 0)
	}
	s.startTime.Store(time.Time{})
	s.last.Store(health.NewUnhealthy(name, "not started"))
	s.setStatus(StatusStopped)
	return s
}

// WithMetrics exports the lifecycle state.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *BaseService) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *BaseService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMonitor evaluates m instead of an empty monitor.
func WithMonitor(m *health.Monitor) Option {
	return func(s *BaseService) { s.monitor = m }
}

// WithHealthInterval sets how often health is evaluated. Zero disables
// periodic evaluation; Health then evaluates on demand.
func WithHealthInterval(d time.Duration) Option {
	return func(s *BaseService) { s.healthInterval = d }
}

// OnHealthChange is called when the evaluated health flips.
func OnHealthChange(fn func(healthy bool)) Option {
	return func(s *BaseService) { s.onHealthChange = fn }
}

// Name returns the service name.
func (s *BaseService) Name() string { return s.name }

// Status returns the lifecycle state.
func (s *BaseService) Status() Status { return s.status.Load().(Status) }

// Monitor returns the health monitor, for registering checks.
func (s *BaseService) Monitor() *health.Monitor { return s.monitor }

func (s *BaseService) setStatus(st Status) {
	s.status.Store(st)
	s.metrics.RecordServiceStatus(s.name, int(st))
}

// Start moves the service to running and begins health evaluation. It
// returns immediately; evaluation stops with ctx or Stop.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st == StatusRunning || st == StatusStarting {
		return nil
	}
	s.setStatus(StatusStarting)
	s.startTime.Store(time.Now())

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.evaluate(ctx)

	if s.healthInterval > 0 {
		s.wg.Add(1)
		go s.healthLoop(ctx)
	}

	s.setStatus(StatusRunning)
	s.logger.Info("Service started")
	return nil
}

// Stop ends health evaluation and moves the service to stopped. It waits up
// to timeout for the evaluation loop; zero means five seconds.
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st == StatusStopped || st == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)
	if s.cancel != nil {
		s.cancel()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Health loop did not stop in time", "timeout", timeout)
	}

	s.last.Store(health.NewUnhealthy(s.name, "stopped"))
	s.setStatus(StatusStopped)
	s.logger.Info("Service stopped")
	return nil
}

// Health returns the latest evaluation, adjusted for the lifecycle state.
func (s *BaseService) Health() health.Status {
	switch s.Status() {
	case StatusStopped:
		return health.NewUnhealthy(s.name, "stopped")
	case StatusStarting:
		return health.NewDegraded(s.name, "starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "stopping")
	}
	if s.healthInterval <= 0 {
		return s.evaluate(context.Background())
	}
	return s.last.Load().(health.Status)
}

// Info returns runtime counters.
func (s *BaseService) Info() Info {
	start := s.startTime.Load().(time.Time)
	var uptime time.Duration
	if !start.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(start)
	}
	return Info{
		Name:               s.name,
		Status:             s.Status().String(),
		Uptime:             uptime,
		StartTime:          start,
		HealthChecks:       s.healthChecks.Load(),
		FailedHealthChecks: s.failedHealthChecks.Load(),
	}
}

func (s *BaseService) healthLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

func (s *BaseService) evaluate(ctx context.Context) health.Status {
	s.healthChecks.Add(1)
	st := s.monitor.Evaluate(ctx)
	if !st.Healthy {
		s.failedHealthChecks.Add(1)
	}
	prev := s.last.Swap(st).(health.Status)
	if prev.Healthy != st.Healthy {
		s.logger.Info("Health changed", "healthy", st.Healthy, "status", st.Status)
		if s.onHealthChange != nil {
			go s.onHealthChange(st.Healthy)
		}
	}
	return st
}
