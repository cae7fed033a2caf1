// Package badger stores records in an embedded Badger database.
//
// Records live at "r/<kind>/<id>" and natural keys at "k/<kind>/<key>",
// holding the record id. Create writes both in one transaction, so Badger's
// conflict detection arbitrates concurrent creates of the same key.
package badger

import (
	"context"
	stderrors "errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/pkg/retry"
	"github.com/openstack-archive/namos/storage"
)

// Backend implements storage.Backend on Badger.
type Backend struct {
	db *badger.DB
}

var _ storage.Backend = (*Backend)(nil)

// Open opens or creates a database under dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Backend, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(dir)).WithValueLogFileSize(1 << 26)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapFatal(err, "badger", "Open", "open database")
	}
	return &Backend{db: db}, nil
}

func recordKey(kind, id string) []byte { return []byte("r/" + kind + "/" + id) }
func indexKey(kind, key string) []byte { return []byte("k/" + kind + "/" + key) }

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (b *Backend) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	p := retry.Race()
	p.RetryIf = func(err error) bool { return stderrors.Is(err, badger.ErrConflict) }
	return retry.Do(ctx, p, func() error {
		return b.db.Update(fn)
	})
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Create implements storage.Backend.
func (b *Backend) Create(ctx context.Context, kind, id, key string, data []byte) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		for _, k := range [][]byte{indexKey(kind, key), recordKey(kind, id)} {
			taken, err := exists(txn, k)
			if err != nil {
				return err
			}
			if taken {
				return storage.ErrDuplicate
			}
		}
		if err := txn.Set(indexKey(kind, key), []byte(id)); err != nil {
			return err
		}
		return txn.Set(recordKey(kind, id), data)
	})
	if err != nil && !stderrors.Is(err, storage.ErrDuplicate) {
		return b.wrap(err, "Create")
	}
	return err
}

func (b *Backend) wrap(err error, method string) error {
	if stderrors.Is(err, badger.ErrDBClosed) {
		return errors.WrapFatal(errors.ErrStoreClosed, "badger", method, "use database")
	}
	return errors.Wrap(err, "badger", method, "transaction")
}

func read(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, kind, id string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = read(txn, recordKey(kind, id))
		return err
	})
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return nil, b.wrap(err, "Get")
	}
	return out, err
}

// GetByKey implements storage.Backend.
func (b *Backend) GetByKey(_ context.Context, kind, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		id, err := read(txn, indexKey(kind, key))
		if err != nil {
			return err
		}
		out, err = read(txn, recordKey(kind, string(id)))
		return err
	})
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return nil, b.wrap(err, "GetByKey")
	}
	return out, err
}

// List implements storage.Backend.
func (b *Backend) List(_ context.Context, kind string) ([][]byte, error) {
	var out [][]byte
	prefix := recordKey(kind, "")
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap(err, "List")
	}
	return out, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(ctx context.Context, kind, id string, data []byte) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, recordKey(kind, id))
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return txn.Set(recordKey(kind, id), data)
	})
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return b.wrap(err, "Put")
	}
	return err
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, kind, id, key string) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(recordKey(kind, id)); err != nil {
			return err
		}
		owner, err := read(txn, indexKey(kind, key))
		switch {
		case stderrors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return err
		case string(owner) == id:
			return txn.Delete(indexKey(kind, key))
		}
		return nil
	})
	if err != nil {
		return b.wrap(err, "Delete")
	}
	return nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error { return b.db.Close() }
