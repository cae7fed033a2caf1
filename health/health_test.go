package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
		{"unhealthy after degraded", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Aggregate("conductor", tt.subs)
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, tt.want == StateHealthy, st.Healthy)
			assert.Len(t, st.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromErrorScrubsMessage(t *testing.T) {
	st := FromError("store", errors.New("dial postgres://namos:pw@10.0.0.5:5432/namos failed: password=hunter2"))
	assert.True(t, st.IsUnhealthy())
	assert.NotContains(t, st.Message, "10.0.0.5")
	assert.NotContains(t, st.Message, "hunter2")
	assert.Contains(t, st.Message, "[URL]")

	assert.True(t, FromError("store", nil).IsHealthy())
}

func TestMonitorEvaluate(t *testing.T) {
	m := NewMonitor("conductor", 0)
	m.Register("nats", func(context.Context) error { return nil })
	m.Register("store", func(context.Context) error { return errors.New("closed") })
	m.Update("pool", NewDegraded("", "queue filling"))

	st := m.Evaluate(context.Background())
	assert.True(t, st.IsUnhealthy())
	require.Len(t, st.SubStatuses, 3)
	assert.Equal(t, []string{"nats", "pool", "store"}, []string{
		st.SubStatuses[0].Component, st.SubStatuses[1].Component, st.SubStatuses[2].Component,
	})

	m.Register("store", func(context.Context) error { return nil })
	m.Update("pool", NewHealthy("", "ok"))
	assert.True(t, m.Evaluate(context.Background()).IsHealthy())

	got, ok := m.Get("store")
	require.True(t, ok)
	assert.True(t, got.IsHealthy())
}

func TestMonitorCheckTimeout(t *testing.T) {
	m := NewMonitor("api", 1)
	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	st := m.Evaluate(context.Background())
	assert.True(t, st.IsUnhealthy())
}
