package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openstack-archive/namos/pkg/retry"
)

// Well-known KV errors
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
)

// CreateKeyValueBucket opens the bucket named by cfg, creating it when
// missing. Losing a creation race to another process opens the winner's
// bucket.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if _, err := c.ready(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}
	bucket, err := js.CreateKeyValue(ctx, cfg)
	switch {
	case err == nil:
		c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	case errors.Is(err, jetstream.ErrBucketExists), errors.Is(err, jetstream.ErrStreamNameAlreadyInUse):
		return js.KeyValue(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}
}

// KVEntry is a value together with the revision a later Update must name.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore reads and writes one bucket with compare-and-set semantics.
type KVStore struct {
	bucket   jetstream.KeyValue
	timeout  time.Duration
	maxValue int
	cas      retry.Policy
	logger   *slog.Logger
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithKVTimeout bounds each bucket call; zero leaves the caller's deadline.
func WithKVTimeout(d time.Duration) KVOption {
	return func(kv *KVStore) { kv.timeout = d }
}

// WithMaxValueSize rejects larger writes; zero disables the check.
func WithMaxValueSize(n int) KVOption {
	return func(kv *KVStore) { kv.maxValue = n }
}

// WithCASRetries sets how often UpdateWithRetry re-reads after a conflict.
func WithCASRetries(n int) KVOption {
	return func(kv *KVStore) { kv.cas.Attempts = n + 1 }
}

// NewKVStore wraps bucket. By default calls time out after 5s, values are
// capped at 1 MiB and a conflicting update is retried 10 times.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...KVOption) *KVStore {
	kv := &KVStore{
		bucket:   bucket,
		timeout:  5 * time.Second,
		maxValue: 1 << 20,
		cas: retry.Policy{
			Attempts: 11,
			Base:     10 * time.Millisecond,
			Cap:      time.Second,
			Factor:   2,
			Jitter:   true,
			RetryIf:  IsKVConflictError,
		},
		logger: c.logger.With("bucket", bucket.Bucket()),
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KVStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.timeout)
}

// Get returns key, or ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.bound(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	switch {
	case err == nil:
		return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
	case IsKVNotFoundError(err):
		return nil, ErrKVKeyNotFound
	default:
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
}

// write runs a Create or Update call, mapping a conflict to onConflict.
func (kv *KVStore) write(ctx context.Context, op, key string, value []byte, onConflict error,
	call func(context.Context) (uint64, error)) (uint64, error) {
	if kv.maxValue > 0 && len(value) > kv.maxValue {
		return 0, fmt.Errorf("kv %s %s: value of %d bytes is over the %d byte limit", op, key, len(value), kv.maxValue)
	}
	ctx, cancel := kv.bound(ctx)
	defer cancel()

	rev, err := call(ctx)
	switch {
	case err == nil:
		kv.logger.Debug("kv write", "op", op, "key", key, "revision", rev)
		return rev, nil
	case IsKVConflictError(err):
		return 0, onConflict
	default:
		return 0, fmt.Errorf("kv %s %s: %w", op, key, err)
	}
}

// Create writes key when it is absent, otherwise it returns ErrKVKeyExists.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "create", key, value, ErrKVKeyExists, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Create(ctx, key, value)
	})
}

// Update writes key when its revision is still revision, otherwise it
// returns ErrKVRevisionMismatch.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return kv.write(ctx, "update", key, value, ErrKVRevisionMismatch, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Update(ctx, key, value, revision)
	})
}

// UpdateWithRetry is a read-modify-write loop. fn sees nil for a missing
// key, whose result is then created. A conflict re-runs the loop; an error
// from fn ends it and is returned as is.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	attempt := func() error {
		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		if err == nil {
			current, revision = entry.Value, entry.Revision
		} else if !errors.Is(err, ErrKVKeyNotFound) {
			return retry.Stop(err)
		}

		next, err := fn(current)
		if err != nil {
			return retry.Stop(err)
		}
		if revision == 0 {
			_, err = kv.Create(ctx, key, next)
		} else {
			_, err = kv.Update(ctx, key, next, revision)
		}
		if IsKVConflictError(err) {
			kv.logger.Debug("kv cas conflict", "key", key)
			return err
		}
		return retry.Stop(err)
	}

	err := retry.Do(ctx, kv.cas, attempt)
	var p *retry.Permanent
	switch {
	case errors.As(err, &p):
		return p.Err
	case IsKVConflictError(err):
		return fmt.Errorf("%w: %v", ErrKVMaxRetriesExceeded, err)
	}
	return err
}

// Delete removes key; a missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.bound(ctx)
	defer cancel()

	err := kv.bucket.Delete(ctx, key)
	if err == nil || IsKVNotFoundError(err) {
		return nil
	}
	return fmt.Errorf("kv delete %s: %w", key, err)
}

// Keys lists the live keys matching a subject filter such as "region.rec.>".
func (kv *KVStore) Keys(ctx context.Context, filter string) ([]string, error) {
	ctx, cancel := kv.bound(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeysFiltered(ctx, filter)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv keys %s: %w", filter, err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

func matchAny(err error, targets []error, fragments []string) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := err.Error()
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// IsKVNotFoundError reports a missing or deleted key. Server error code
// 10037 is matched for errors that lost their type on the wire.
func IsKVNotFoundError(err error) bool {
	return matchAny(err,
		[]error{ErrKVKeyNotFound, jetstream.ErrKeyNotFound, jetstream.ErrKeyDeleted},
		[]string{"key not found", "10037"})
}

// IsKVConflictError reports an existing key or a stale revision.
func IsKVConflictError(err error) bool {
	return matchAny(err,
		[]error{ErrKVRevisionMismatch, ErrKVKeyExists, jetstream.ErrKeyExists},
		[]string{"wrong last sequence", "10071", "key exists"})
}
