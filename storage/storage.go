// Package storage is the store of record for the topology graph.
//
// A Backend persists opaque JSON records per entity kind and enforces one
// record per (kind, natural key) atomically at write time. Table layers typed
// access on top, including FindOrCreate: try to insert, and on a natural-key
// collision read back the row that won. That collision is the only
// concurrency control the registration pipeline relies on.
package storage

import (
	"context"

	"github.com/openstack-archive/namos/errors"
)

var (
	// ErrDuplicate is returned by Backend.Create when the natural key is taken.
	ErrDuplicate = errors.New("storage: duplicate natural key")
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("storage: record not found")
)

// Backend is implemented by every store driver.
//
// Implementations must be safe for concurrent use. Create must be atomic with
// respect to the natural key: of two concurrent Creates with the same kind and
// key, exactly one succeeds and the other returns ErrDuplicate.
type Backend interface {
	// Create inserts a record. It returns ErrDuplicate if key is taken.
	Create(ctx context.Context, kind, id, key string, data []byte) error

	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, kind, id string) ([]byte, error)

	// GetByKey returns the record holding the natural key, or ErrNotFound.
	GetByKey(ctx context.Context, kind, key string) ([]byte, error)

	// List returns every record of kind in no particular order.
	List(ctx context.Context, kind string) ([][]byte, error)

	// Put replaces an existing record. The natural key does not change.
	Put(ctx context.Context, kind, id string, data []byte) error

	// Delete removes a record and its key. Deleting a missing record is not an error.
	Delete(ctx context.Context, kind, id, key string) error

	// Close releases the backend.
	Close() error
}

// Migrator is implemented by backends that need schema setup.
type Migrator interface {
	Migrate(ctx context.Context) error
}
