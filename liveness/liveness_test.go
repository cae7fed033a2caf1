package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newStore(t *testing.T) (*storage.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := storage.New(memory.New(), storage.WithClock(c.now))
	t.Cleanup(func() { _ = s.Close() })
	return s, c
}

func TestIsAlive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	updated := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name   string
		worker model.ServiceWorker
		want   bool
	}{
		{"updated 59s ago", model.ServiceWorker{Base: model.Base{CreatedAt: now.Add(-time.Hour), UpdatedAt: updated(59 * time.Second)}}, true},
		{"updated 61s ago", model.ServiceWorker{Base: model.Base{CreatedAt: now.Add(-time.Hour), UpdatedAt: updated(61 * time.Second)}}, false},
		{"exactly at boundary", model.ServiceWorker{Base: model.Base{CreatedAt: now.Add(-time.Hour), UpdatedAt: updated(60 * time.Second)}}, true},
		{"never updated, fresh", model.ServiceWorker{Base: model.Base{CreatedAt: now.Add(-10 * time.Second)}}, true},
		{"never updated, stale", model.ServiceWorker{Base: model.Base{CreatedAt: now.Add(-2 * time.Minute)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAlive(&tt.worker, now, 60*time.Second))
		})
	}
}

func addWorker(t *testing.T, s *storage.Store, pid, componentID string) *model.ServiceWorker {
	t.Helper()
	w, err := s.ServiceWorkers.Create(context.Background(), &model.ServiceWorker{
		Base: model.Base{Name: componentID + "@" + pid}, PID: pid, ServiceComponentID: componentID,
	})
	require.NoError(t, err)
	_, err = s.Configs.Create(context.Background(), &model.Config{
		Base: model.Base{Name: "DEFAULT.debug"}, Value: "true", ServiceWorkerID: w.ID,
	})
	require.NoError(t, err)
	return w
}

func TestSweep_RemovesOnlyDeadWorkers(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()
	tr := NewTracker(s, WithDeadSince(300*time.Second))

	dead := addWorker(t, s, "host.1", "comp")
	_, err := s.DeviceDrivers.Create(ctx, &model.DeviceDriver{
		DeviceID: "d", EndpointID: "e", DeviceDriverClassID: "c", ServiceWorkerID: dead.ID,
	})
	require.NoError(t, err)

	c.t = c.t.Add(400 * time.Second)
	alive := addWorker(t, s, "host.2", "comp")
	other := addWorker(t, s, "host.3", "other")
	c.t = c.t.Add(5 * time.Second)

	n, err := tr.Sweep(ctx, "comp")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ServiceWorkers.Get(ctx, dead.ID)
	assert.True(t, errors.IsNotFoundKind(err, errors.KindServiceWorker))
	_, err = s.ServiceWorkers.Get(ctx, alive.ID)
	require.NoError(t, err)
	_, err = s.ServiceWorkers.Get(ctx, other.ID)
	require.NoError(t, err)

	configs, err := s.Configs.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	for _, cfg := range configs {
		assert.NotEqual(t, dead.ID, cfg.ServiceWorkerID)
	}
	drvs, err := s.DeviceDrivers.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, drvs)
}

func TestSweep_AllComponents(t *testing.T) {
	s, c := newStore(t)
	tr := NewTracker(s, WithDeadSince(time.Minute))

	addWorker(t, s, "a", "c1")
	addWorker(t, s, "b", "c2")
	c.t = c.t.Add(2 * time.Minute)

	n, err := tr.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHeartbeat(t *testing.T) {
	s, c := newStore(t)
	ctx := context.Background()
	tr := NewTracker(s)

	w := addWorker(t, s, "host.7", "comp")
	c.t = c.t.Add(50 * time.Second)

	require.NoError(t, tr.Heartbeat(ctx, "host.7", false))
	got, err := s.ServiceWorkers.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UpdatedAt)
	assert.Equal(t, c.t, *got.UpdatedAt)

	c.t = c.t.Add(55 * time.Second)
	assert.True(t, tr.Alive(got))

	require.NoError(t, tr.Heartbeat(ctx, "host.7", true))
	_, err = s.ServiceWorkers.Get(ctx, w.ID)
	assert.True(t, errors.IsNotFound(err))
	configs, err := s.Configs.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestHeartbeat_UnknownWorker(t *testing.T) {
	s, _ := newStore(t)
	err := NewTracker(s).Heartbeat(context.Background(), "ghost", false)
	assert.True(t, errors.IsNotFoundKind(err, errors.KindServiceWorker))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewTracker(s).Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
