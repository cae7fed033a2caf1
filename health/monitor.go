package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency. A nil error is healthy.
type Check func(ctx context.Context) error

// Monitor holds named checks and the last status each produced.
type Monitor struct {
	name    string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
	last   map[string]Status
}

// NewMonitor creates a monitor reporting as name. Each check is bounded by
// timeout; zero means two seconds.
func NewMonitor(name string, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{
		name:    name,
		timeout: timeout,
		checks:  make(map[string]Check),
		last:    make(map[string]Status),
	}
}

// Register adds or replaces the check called name.
func (m *Monitor) Register(name string, c Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = c
}

// Update records a status pushed by its owner instead of probed.
func (m *Monitor) Update(name string, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.Component = name
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now()
	}
	m.last[name] = st
}

// Get returns the last status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.last[name]
	return st, ok
}

// Evaluate runs every check and aggregates the results with the pushed
// statuses. Sub-statuses are sorted by name.
func (m *Monitor) Evaluate(ctx context.Context) Status {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	for name, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		st := FromError(name, c(cctx))
		cancel()
		m.Update(name, st)
	}

	m.mu.RLock()
	subs := make([]Status, 0, len(m.last))
	for _, st := range m.last {
		subs = append(subs, st)
	}
	m.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}
