package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "namos"

// Metrics are the platform metrics every namos binary exposes.
type Metrics struct {
	ServiceStatus *prometheus.GaugeVec

	// RPC boundary
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Registration pipeline
	Registrations   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	DriversResolved *prometheus.CounterVec
	WorkersSwept    prometheus.Counter
	Callbacks       *prometheus.CounterVec

	// Store
	StoreOps *prometheus.CounterVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics builds unregistered core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Conductor requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Conductor request handling time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "total",
			Help:      "Worker registrations by outcome",
		}, []string{"outcome"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each registration stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		DriversResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "drivers_total",
			Help:      "Configured drivers by family and outcome (resolved, skipped)",
		}, []string{"family", "outcome"}),

		WorkersSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "workers_swept_total",
			Help:      "Dead workers removed by cleanup",
		}),

		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "callbacks_total",
			Help:      "Reverse-channel calls to workers by method and outcome",
		}, []string{"method", "outcome"}),

		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "find_or_create_total",
			Help:      "Idempotent creates by kind and result (created, found)",
		}, []string{"kind", "result"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.RPCRequests,
		c.RPCDuration,
		c.Registrations,
		c.StageDuration,
		c.DriversResolved,
		c.WorkersSwept,
		c.Callbacks,
		c.StoreOps,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// The Record helpers are nil-safe so components can run without metrics.

// RecordServiceStatus updates the service status gauge.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	if c == nil {
		return
	}
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordRPC counts a handled conductor request.
func (c *Metrics) RecordRPC(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.RPCRequests.WithLabelValues(operation, outcome).Inc()
	c.RPCDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRegistration counts a registration by outcome ("ok" or "error").
func (c *Metrics) RecordRegistration(outcome string) {
	if c == nil {
		return
	}
	c.Registrations.WithLabelValues(outcome).Inc()
}

// RecordStage observes the duration of one registration stage.
func (c *Metrics) RecordStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDriver counts one configured driver.
func (c *Metrics) RecordDriver(family, outcome string) {
	if c == nil {
		return
	}
	c.DriversResolved.WithLabelValues(family, outcome).Inc()
}

// RecordSwept adds n to the swept worker counter.
func (c *Metrics) RecordSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.WorkersSwept.Add(float64(n))
}

// RecordCallback counts one reverse-channel call.
func (c *Metrics) RecordCallback(method, outcome string) {
	if c == nil {
		return
	}
	c.Callbacks.WithLabelValues(method, outcome).Inc()
}

// RecordFindOrCreate counts an idempotent create.
func (c *Metrics) RecordFindOrCreate(kind string, created bool) {
	if c == nil {
		return
	}
	result := "found"
	if created {
		result = "created"
	}
	c.StoreOps.WithLabelValues(kind, result).Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter.
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge.
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	if c == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	c.NATSCircuitBreaker.Set(value)
}
