// Package liveness tracks worker heartbeats and removes dead workers.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

// Defaults for the liveness windows.
const (
	DefaultReportInterval = 60 * time.Second
	DefaultDeadSince      = 300 * time.Second
)

// IsAlive reports whether w was seen within interval of now.
// The last update counts when present, otherwise creation.
func IsAlive(w *model.ServiceWorker, now time.Time, interval time.Duration) bool {
	return now.Sub(w.LastSeen()) <= interval
}

// Tracker records heartbeats and sweeps dead workers.
type Tracker struct {
	store          *storage.Store
	reportInterval time.Duration
	deadSince      time.Duration
	logger         *slog.Logger
	metrics        *metric.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReportInterval sets the window within which a worker counts as alive.
func WithReportInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.reportInterval = d
		}
	}
}

// WithDeadSince sets how long a worker must be silent before it is swept.
func WithDeadSince(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.deadSince = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a Tracker over store.
func NewTracker(store *storage.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:          store,
		reportInterval: DefaultReportInterval,
		deadSince:      DefaultDeadSince,
		logger:         slog.Default().With("component", "liveness"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReportInterval returns the liveness window.
func (t *Tracker) ReportInterval() time.Duration { return t.reportInterval }

// Alive reports whether w is alive now.
func (t *Tracker) Alive(w *model.ServiceWorker) bool {
	return IsAlive(w, t.store.Now(), t.reportInterval)
}

// Heartbeat refreshes every worker registered under identification, or
// removes them when dying is set. It returns a NotFound error when no
// worker carries the identification.
func (t *Tracker) Heartbeat(ctx context.Context, identification string, dying bool) error {
	workers, err := t.store.ServiceWorkers.List(ctx, func(w *model.ServiceWorker) bool {
		return w.PID == identification && !w.Deleted()
	})
	if err != nil {
		return errors.Wrap(err, "liveness", "Heartbeat", "list workers")
	}
	if len(workers) == 0 {
		return errors.NotFound(errors.KindServiceWorker, identification)
	}

	for _, w := range workers {
		if dying {
			if err := t.Remove(ctx, w.ID); err != nil {
				return err
			}
			t.logger.Info("Worker deregistered", "worker_id", w.ID, "identification", identification)
			continue
		}
		if _, err := t.store.ServiceWorkers.Update(ctx, w); err != nil {
			return errors.Wrap(err, "liveness", "Heartbeat", "refresh worker")
		}
	}
	return nil
}

// Remove deletes a worker with its Config and DeviceDriver rows.
func (t *Tracker) Remove(ctx context.Context, workerID string) error {
	configs, err := t.store.Configs.List(ctx, func(c *model.Config) bool {
		return c.ServiceWorkerID == workerID
	})
	if err != nil {
		return errors.Wrap(err, "liveness", "Remove", "list configs")
	}
	for _, c := range configs {
		if err := t.store.Configs.Delete(ctx, c.ID); err != nil {
			return errors.Wrap(err, "liveness", "Remove", "delete config")
		}
	}

	drvs, err := t.store.DeviceDrivers.List(ctx, func(d *model.DeviceDriver) bool {
		return d.ServiceWorkerID == workerID
	})
	if err != nil {
		return errors.Wrap(err, "liveness", "Remove", "list drivers")
	}
	for _, d := range drvs {
		if err := t.store.DeviceDrivers.Delete(ctx, d.ID); err != nil {
			return errors.Wrap(err, "liveness", "Remove", "delete driver")
		}
	}

	if err := t.store.ServiceWorkers.Delete(ctx, workerID); err != nil {
		return errors.Wrap(err, "liveness", "Remove", "delete worker")
	}
	return nil
}

// Sweep removes the workers of a component that have been silent longer
// than the dead-since window. An empty componentID sweeps every component.
// It returns the number of workers removed.
func (t *Tracker) Sweep(ctx context.Context, componentID string) (int, error) {
	now := t.store.Now()
	workers, err := t.store.ServiceWorkers.List(ctx, func(w *model.ServiceWorker) bool {
		if w.Deleted() {
			return false
		}
		if componentID != "" && w.ServiceComponentID != componentID {
			return false
		}
		return !IsAlive(w, now, t.deadSince)
	})
	if err != nil {
		return 0, errors.Wrap(err, "liveness", "Sweep", "list workers")
	}

	removed := 0
	for _, w := range workers {
		if err := t.Remove(ctx, w.ID); err != nil {
			t.metrics.RecordSwept(removed)
			return removed, err
		}
		removed++
		t.logger.Info("Dead worker removed",
			"worker_id", w.ID, "worker", w.Name, "last_seen", w.LastSeen())
	}
	t.metrics.RecordSwept(removed)
	return removed, nil
}

// Run sweeps every component each interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.deadSince
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Sweep(ctx, ""); err != nil && ctx.Err() == nil {
				t.logger.Warn("Periodic sweep failed", "error", err)
			}
		}
	}
}
