package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/metric"
)

type callback struct {
	worker string
	fail   bool
	block  chan struct{}
}

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, callback) error { return nil }

	p := NewPool(0, 0, noop)
	assert.Equal(t, 4, p.workers)
	assert.Equal(t, 256, p.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[callback](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	p := NewPool(2, 10, func(context.Context, callback) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, p.Submit(callback{}), ErrPoolNotStarted)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(callback{worker: "w"}))
	}
	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load())

	assert.ErrorIs(t, p.Submit(callback{}), ErrPoolStopped)
	assert.NoError(t, p.Stop(time.Second), "second stop is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(1, 1, func(_ context.Context, c callback) error {
		if c.block != nil {
			started <- struct{}{}
			<-c.block
		}
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Submit(callback{block: release}))
	<-started
	require.NoError(t, p.Submit(callback{}))
	assert.ErrorIs(t, p.Submit(callback{}), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Stop(5*time.Second))
}

func TestPool_FailuresCounted(t *testing.T) {
	p := NewPool(2, 10, func(_ context.Context, c callback) error {
		if c.fail {
			return errors.New("worker unreachable")
		}
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(callback{fail: i%2 == 0}))
	}
	require.NoError(t, p.Stop(5*time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestPool_JobTimeout(t *testing.T) {
	var deadlineSeen atomic.Bool
	p := NewPool(1, 1, func(ctx context.Context, _ callback) error {
		_, ok := ctx.Deadline()
		deadlineSeen.Store(ok)
		return nil
	}, WithJobTimeout[callback](time.Second))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(callback{}))
	require.NoError(t, p.Stop(5*time.Second))
	assert.True(t, deadlineSeen.Load())
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	p := NewPool(4, 200, func(context.Context, callback) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, p.Submit(callback{}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int64(100), processed.Load())
}

func TestPool_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	p := NewPool(1, 4, func(_ context.Context, c callback) error {
		if c.fail {
			return errors.New("boom")
		}
		return nil
	}, WithMetrics[callback](reg, "callbacks"))
	require.NotNil(t, p.metrics)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(callback{}))
	require.NoError(t, p.Submit(callback{fail: true}))
	require.NoError(t, p.Stop(5*time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.jobs.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.jobs.WithLabelValues("failed")))
}
