// Package memory is an in-process storage.Backend. It is the default store
// for development and the reference the other backends are tested against.
package memory

import (
	"context"
	"sync"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/storage"
)

type table struct {
	records map[string][]byte
	keys    map[string]string // natural key -> id
}

// Backend keeps every record in memory.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New returns an empty Backend.
func New() *Backend {
	return &Backend{tables: make(map[string]*table)}
}

func (b *Backend) table(kind string) *table {
	t, ok := b.tables[kind]
	if !ok {
		t = &table{records: make(map[string][]byte), keys: make(map[string]string)}
		b.tables[kind] = t
	}
	return t
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Create implements storage.Backend.
func (b *Backend) Create(_ context.Context, kind, id, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.ErrStoreClosed
	}
	t := b.table(kind)
	if _, taken := t.keys[key]; taken {
		return storage.ErrDuplicate
	}
	if _, taken := t.records[id]; taken {
		return storage.ErrDuplicate
	}
	t.keys[key] = id
	t.records[id] = clone(data)
	return nil
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, kind, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.ErrStoreClosed
	}
	t, ok := b.tables[kind]
	if !ok {
		return nil, storage.ErrNotFound
	}
	data, ok := t.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(data), nil
}

// GetByKey implements storage.Backend.
func (b *Backend) GetByKey(ctx context.Context, kind, key string) ([]byte, error) {
	b.mu.RLock()
	t, ok := b.tables[kind]
	var id string
	if ok {
		id, ok = t.keys[key]
	}
	b.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b.Get(ctx, kind, id)
}

// List implements storage.Backend.
func (b *Backend) List(_ context.Context, kind string) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.ErrStoreClosed
	}
	t, ok := b.tables[kind]
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, len(t.records))
	for _, data := range t.records {
		out = append(out, clone(data))
	}
	return out, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(_ context.Context, kind, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.ErrStoreClosed
	}
	t, ok := b.tables[kind]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := t.records[id]; !ok {
		return storage.ErrNotFound
	}
	t.records[id] = clone(data)
	return nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(_ context.Context, kind, id, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.ErrStoreClosed
	}
	t, ok := b.tables[kind]
	if !ok {
		return nil
	}
	delete(t.records, id)
	if t.keys[key] == id {
		delete(t.keys, key)
	}
	return nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
