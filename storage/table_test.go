package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
	"github.com/openstack-archive/namos/storage/memory"
)

func TestTableStampsAndOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id-%02d", 10-seq)
	}
	s := storage.New(memory.New(), storage.WithClock(clock), storage.WithIDGenerator(ids))
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Devices.Create(ctx, &model.Device{Base: model.Base{Name: name}})
		require.NoError(t, err)
	}

	rows, err := s.Devices.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rows[0].Name, rows[1].Name, rows[2].Name})
	assert.Equal(t, base.Add(time.Second), rows[0].CreatedAt)

	first, err := s.Devices.First(ctx, func(d *model.Device) bool { return d.Name != "a" })
	require.NoError(t, err)
	assert.Equal(t, "b", first.Name)
}

func TestFindOrCreateReturnsExisting(t *testing.T) {
	s := storage.New(memory.New())
	ctx := context.Background()

	first, created, err := s.ServiceNodes.FindOrCreate(ctx, &model.ServiceNode{
		Base: model.Base{Name: "node1"}, FQDN: "node1.example",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.ServiceNodes.FindOrCreate(ctx, &model.ServiceNode{
		Base: model.Base{Name: "node1"}, FQDN: "other",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "node1.example", second.FQDN)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := storage.New(memory.New())
	assert.NoError(t, s.Configs.Delete(context.Background(), "nope"))
}
