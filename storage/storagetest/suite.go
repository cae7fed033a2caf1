// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/storage"
)

// Run exercises a backend produced by factory. Each subtest gets a fresh backend.
func Run(t *testing.T, factory func(t *testing.T) storage.Backend) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		require.NoError(t, b.Create(ctx, "thing", "id-1", "alpha", []byte(`{"v":1}`)))

		got, err := b.Get(ctx, "thing", "id-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))

		got, err = b.GetByKey(ctx, "thing", "alpha")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))
	})

	t.Run("duplicate key", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		require.NoError(t, b.Create(ctx, "thing", "id-1", "alpha", []byte(`{}`)))
		err := b.Create(ctx, "thing", "id-2", "alpha", []byte(`{}`))
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		// Same key under another kind is independent.
		assert.NoError(t, b.Create(ctx, "other", "id-3", "alpha", []byte(`{}`)))
	})

	t.Run("missing", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		_, err := b.Get(ctx, "thing", "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = b.GetByKey(ctx, "thing", "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, b.Put(ctx, "thing", "nope", []byte(`{}`)), storage.ErrNotFound)
		assert.NoError(t, b.Delete(ctx, "thing", "nope", "nope"))
	})

	t.Run("put and list", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, b.Create(ctx, "thing", fmt.Sprintf("id-%d", i), fmt.Sprintf("k%d", i), []byte(`{}`)))
		}
		require.NoError(t, b.Put(ctx, "thing", "id-1", []byte(`{"v":2}`)))

		all, err := b.List(ctx, "thing")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		got, err := b.GetByKey(ctx, "thing", "k1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))

		empty, err := b.List(ctx, "unused")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("delete frees key", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		require.NoError(t, b.Create(ctx, "thing", "id-1", "alpha", []byte(`{}`)))
		require.NoError(t, b.Delete(ctx, "thing", "id-1", "alpha"))

		_, err := b.Get(ctx, "thing", "id-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, b.Create(ctx, "thing", "id-2", "alpha", []byte(`{}`)))
	})

	t.Run("keys with separators", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()
		key := model.Key("nova-compute", "node 1.example", "svc/id")
		require.NoError(t, b.Create(ctx, "thing", "id-1", key, []byte(`{}`)))
		_, err := b.GetByKey(ctx, "thing", key)
		assert.NoError(t, err)
	})

	t.Run("concurrent find or create", func(t *testing.T) {
		s := storage.New(factory(t))
		ctx := context.Background()

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[string]struct{}{}
			created int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, ok, err := s.Regions.FindOrCreate(ctx, &model.Region{Base: model.Base{Name: "RegionOne"}})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				ids[r.ID] = struct{}{}
				if ok {
					created++
				}
			}()
		}
		wg.Wait()
		assert.Len(t, ids, 1)
		assert.Equal(t, 1, created)

		rows, err := s.Regions.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("table semantics", func(t *testing.T) {
		s := storage.New(factory(t))
		ctx := context.Background()

		_, err := s.Services.Get(ctx, "missing")
		assert.True(t, errors.IsNotFoundKind(err, errors.KindService))

		svc, err := s.Services.Create(ctx, &model.Service{Base: model.Base{Name: "nova"}})
		require.NoError(t, err)
		assert.NotEmpty(t, svc.ID)

		_, err = s.Services.Create(ctx, &model.Service{Base: model.Base{Name: "nova"}})
		assert.True(t, errors.IsAlreadyExist(err))

		svc.KeystoneServiceID = "ks-1"
		_, err = s.Services.Update(ctx, svc)
		require.NoError(t, err)

		got, err := s.Services.GetByKey(ctx, "nova")
		require.NoError(t, err)
		assert.Equal(t, "ks-1", got.KeystoneServiceID)
		assert.NotNil(t, got.UpdatedAt)

		got.Name = "renamed"
		_, err = s.Services.Update(ctx, got)
		assert.True(t, errors.IsValidation(err))

		require.NoError(t, s.Services.Delete(ctx, svc.ID))
		_, err = s.Services.Get(ctx, svc.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}
