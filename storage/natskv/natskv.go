// Package natskv stores records in a JetStream key-value bucket.
//
// Each record lives at "<kind>.rec.<id>". Its natural key is claimed by a
// separate index entry "<kind>.key.<sha256(key)>" holding the id, written
// with KV Create so that exactly one writer wins. The index is written before
// the record, so a reader that finds an index entry may briefly see no record.
package natskv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/natsclient"
	"github.com/openstack-archive/namos/storage"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "namos"

// Backend implements storage.Backend over a KV bucket.
type Backend struct {
	kv *natsclient.KVStore
}

var _ storage.Backend = (*Backend)(nil)

// New wraps an existing KV store.
func New(kv *natsclient.KVStore) *Backend {
	return &Backend{kv: kv}
}

// Open creates or opens bucket on client.
func Open(ctx context.Context, client *natsclient.Client, bucket string) (*Backend, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	b, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "namos topology store",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "Open", "open bucket "+bucket)
	}
	return New(client.NewKVStore(b)), nil
}

func recordKey(kind, id string) string { return kind + ".rec." + id }

func indexKey(kind, key string) string {
	sum := sha256.Sum256([]byte(key))
	return kind + ".key." + hex.EncodeToString(sum[:])
}

// Create implements storage.Backend.
func (b *Backend) Create(ctx context.Context, kind, id, key string, data []byte) error {
	idx := indexKey(kind, key)
	if _, err := b.kv.Create(ctx, idx, []byte(id)); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return storage.ErrDuplicate
		}
		return errors.WrapTransient(err, "natskv", "Create", "claim natural key")
	}
	if _, err := b.kv.Create(ctx, recordKey(kind, id), data); err != nil {
		// Release the claim so the key is not stranded.
		_ = b.kv.Delete(ctx, idx)
		if stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return storage.ErrDuplicate
		}
		return errors.WrapTransient(err, "natskv", "Create", "write record")
	}
	return nil
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, kind, id string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, recordKey(kind, id))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "natskv", "Get", "read record")
	}
	return entry.Value, nil
}

// GetByKey implements storage.Backend.
func (b *Backend) GetByKey(ctx context.Context, kind, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, indexKey(kind, key))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "natskv", "GetByKey", "read index")
	}
	return b.Get(ctx, kind, string(entry.Value))
}

// List implements storage.Backend.
func (b *Backend) List(ctx context.Context, kind string) ([][]byte, error) {
	keys, err := b.kv.Keys(ctx, kind+".rec.>")
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "List", "list keys")
	}
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		entry, err := b.kv.Get(ctx, k)
		if err != nil {
			if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
				continue // deleted since listing
			}
			return nil, errors.WrapTransient(err, "natskv", "List", "read record")
		}
		out = append(out, entry.Value)
	}
	return out, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(ctx context.Context, kind, id string, data []byte) error {
	err := b.kv.UpdateWithRetry(ctx, recordKey(kind, id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, storage.ErrNotFound
		}
		return data, nil
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return errors.WrapTransient(err, "natskv", "Put", "update record")
	}
	return nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, kind, id, key string) error {
	if err := b.kv.Delete(ctx, recordKey(kind, id)); err != nil {
		return errors.WrapTransient(err, "natskv", "Delete", "delete record")
	}
	idx := indexKey(kind, key)
	entry, err := b.kv.Get(ctx, idx)
	switch {
	case err == nil && string(entry.Value) == id:
		if err := b.kv.Delete(ctx, idx); err != nil {
			return errors.WrapTransient(err, "natskv", "Delete", "release natural key")
		}
	case err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound):
		return errors.WrapTransient(err, "natskv", "Delete", "read index")
	}
	return nil
}

// Close implements storage.Backend. The connection belongs to the caller.
func (b *Backend) Close() error { return nil }
