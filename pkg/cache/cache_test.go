package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestNewRejectsNonPositiveTTL(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestExpiry(t *testing.T) {
	clk := newClock()
	c, err := New[string](time.Minute, WithClock[string](clk.now))
	require.NoError(t, err)

	require.NoError(t, c.Set("nova", "index"))
	v, ok := c.Get("nova")
	require.True(t, ok)
	assert.Equal(t, "index", v)

	clk.advance(59 * time.Second)
	_, ok = c.Get("nova")
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok = c.Get("nova")
	assert.False(t, ok, "an entry is gone once its ttl has elapsed")

	st := c.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Evictions)
	assert.Zero(t, st.Size)
	assert.InDelta(t, 2.0/3.0, st.HitRatio(), 1e-9)
}

func TestSetDeleteClear(t *testing.T) {
	c, err := New[int](time.Hour)
	require.NoError(t, err)

	assert.Error(t, c.Set("", 1))
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Stats().Size)

	c.Clear()
	assert.Zero(t, c.Stats().Size)
	assert.Zero(t, Stats{}.HitRatio())
}

func TestMaxEntries(t *testing.T) {
	clk := newClock()
	c, err := New[int](time.Minute, WithClock[int](clk.now), WithMaxEntries[int](2))
	require.NoError(t, err)

	tests := []struct {
		name    string
		advance time.Duration
		set     string
		want    []string
		gone    []string
	}{
		{"first", 0, "a", []string{"a"}, nil},
		{"second", time.Second, "b", []string{"a", "b"}, nil},
		{"closest to expiry goes", time.Second, "c", []string{"b", "c"}, []string{"a"}},
		{"overwrite keeps size", time.Second, "c", []string{"b", "c"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.advance(tt.advance)
			require.NoError(t, c.Set(tt.set, 1))
			for _, k := range tt.want {
				_, ok := c.Get(k)
				assert.True(t, ok, k)
			}
			for _, k := range tt.gone {
				_, ok := c.Get(k)
				assert.False(t, ok, k)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, err := New[int](time.Minute, WithMetrics[int](reg, "schemas"))
	require.NoError(t, err)
	require.NoError(t, c.Set("a", 1))
	c.Get("a")
	c.Get("b")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("miss")))

	again, err := New[int](time.Minute, WithMetrics[int](reg, "schemas"))
	require.NoError(t, err)
	assert.Nil(t, again.lookups, "a duplicate registration leaves the second cache unmetered")
}
