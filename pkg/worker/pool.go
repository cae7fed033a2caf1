// Package worker runs queued jobs on a fixed set of goroutines. The conductor
// uses it to deliver worker callbacks without holding up the RPC handler
// that produced them.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/namos/metric"
)

// Pool processes jobs of type T with a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	timeout   time.Duration
	logger    *slog.Logger

	queue   chan T
	metrics *poolMetrics
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registrar metric.Registrar
	name      string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	jobs       *prometheus.CounterVec
	duration   prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's queue depth, job counts and durations
// under name.
func WithMetrics[T any](r metric.Registrar, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = r
		p.name = name
	}
}

// WithJobTimeout bounds each job. Zero leaves jobs bounded only by the
// context passed to Start.
func WithJobTimeout[T any](d time.Duration) Option[T] {
	return func(p *Pool[T]) { p.timeout = d }
}

// WithLogger sets the logger used for failed jobs.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 4 workers and a
// queue of 256 jobs. A nil processor panics.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default().With("component", "worker-pool"),
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar != nil && p.name != "" {
		p.metrics = p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "namos",
			Subsystem: p.name,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the pool queue",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "namos",
			Subsystem: p.name,
			Name:      "jobs_total",
			Help:      "Jobs by outcome (processed, failed, dropped)",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "namos",
			Subsystem: p.name,
			Name:      "job_duration_seconds",
			Help:      "Time spent processing one job",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"queue_depth":          m.queueDepth,
		"jobs_total":           m.jobs,
		"job_duration_seconds": m.duration,
	} {
		if err := p.registrar.Register(p.name, name, c); err != nil {
			p.logger.Warn("Pool metric not registered", "pool", p.name, "metric", name, "error", err)
		}
	}
	return m
}

// Submit queues a job without blocking. It fails with ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(job T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- job:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.jobs.WithLabelValues("dropped").Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued jobs to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	close(p.queue)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats holds pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, job T) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.processor(ctx, job)
	p.processed.Add(1)

	outcome := "processed"
	if err != nil {
		p.failed.Add(1)
		outcome = "failed"
		p.logger.Warn("Job failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.jobs.WithLabelValues(outcome).Inc()
		p.metrics.duration.Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}
