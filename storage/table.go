package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/pkg/retry"
)

// Table gives typed access to one entity kind.
type Table[T any, P interface {
	*T
	model.Entity
}] struct {
	backend Backend
	kind    errors.Kind
	now     func() time.Time
	newID   func() string
}

func newTable[T any, P interface {
	*T
	model.Entity
}](b Backend, opts options) *Table[T, P] {
	var zero T
	return &Table[T, P]{
		backend: b,
		kind:    P(&zero).Kind(),
		now:     opts.now,
		newID:   opts.newID,
	}
}

// Kind returns the entity kind stored in the table.
func (t *Table[T, P]) Kind() errors.Kind { return t.kind }

func (t *Table[T, P]) decode(data []byte) (P, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err),
			"storage", string(t.kind), "decode record")
	}
	return P(&v), nil
}

// Create inserts e, assigning an id and creation time when unset.
// A natural-key collision returns an AlreadyExist error.
func (t *Table[T, P]) Create(ctx context.Context, e P) (P, error) {
	meta := e.Meta()
	if meta.ID == "" {
		meta.ID = t.newID()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = t.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "storage", string(t.kind), "encode record")
	}

	key := e.NaturalKey()
	if err := t.backend.Create(ctx, string(t.kind), meta.ID, key, data); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, errors.AlreadyExist(string(t.kind), displayKey(key))
		}
		return nil, errors.Wrap(err, "storage", string(t.kind), "create")
	}
	return e, nil
}

// FindOrCreate inserts e, or returns the row already holding its natural key.
// created reports which happened. A row found this way may have been written
// by a concurrent caller.
func (t *Table[T, P]) FindOrCreate(ctx context.Context, e P) (P, bool, error) {
	out, err := t.Create(ctx, e)
	if err == nil {
		return out, true, nil
	}
	if !errors.IsAlreadyExist(err) {
		return nil, false, err
	}
	// The winning writer may not have made its record visible yet.
	key := e.NaturalKey()
	p := retry.Race()
	p.RetryIf = errors.IsNotFound
	found, err := retry.Value(ctx, p, func() (P, error) {
		return t.GetByKey(ctx, key)
	})
	if err != nil {
		return nil, false, err
	}
	return found, false, nil
}

// Get returns the row with id.
func (t *Table[T, P]) Get(ctx context.Context, id string) (P, error) {
	data, err := t.backend.Get(ctx, string(t.kind), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.NotFound(t.kind, id)
		}
		return nil, errors.Wrap(err, "storage", string(t.kind), "get")
	}
	return t.decode(data)
}

// GetByKey returns the row holding a natural key.
func (t *Table[T, P]) GetByKey(ctx context.Context, key string) (P, error) {
	data, err := t.backend.GetByKey(ctx, string(t.kind), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.NotFound(t.kind, displayKey(key))
		}
		return nil, errors.Wrap(err, "storage", string(t.kind), "get by key")
	}
	return t.decode(data)
}

// List returns the rows accepted by filter, oldest first with ties broken
// by id. A nil filter accepts every row.
func (t *Table[T, P]) List(ctx context.Context, filter func(P) bool) ([]P, error) {
	records, err := t.backend.List(ctx, string(t.kind))
	if err != nil {
		return nil, errors.Wrap(err, "storage", string(t.kind), "list")
	}
	out := make([]P, 0, len(records))
	for _, data := range records {
		v, err := t.decode(data)
		if err != nil {
			return nil, err
		}
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Meta(), out[j].Meta()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// First returns the oldest row accepted by filter, or a NotFound error.
func (t *Table[T, P]) First(ctx context.Context, filter func(P) bool) (P, error) {
	rows, err := t.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NotFound(t.kind, "")
	}
	return rows[0], nil
}

// Update replaces the stored row with e and stamps its update time.
// The natural key of a row cannot change.
func (t *Table[T, P]) Update(ctx context.Context, e P) (P, error) {
	meta := e.Meta()
	current, err := t.Get(ctx, meta.ID)
	if err != nil {
		return nil, err
	}
	if current.NaturalKey() != e.NaturalKey() {
		return nil, errors.Validation(string(t.kind), "natural key cannot change on update")
	}
	meta.CreatedAt = current.Meta().CreatedAt
	now := t.now().UTC()
	meta.UpdatedAt = &now

	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "storage", string(t.kind), "encode record")
	}
	if err := t.backend.Put(ctx, string(t.kind), meta.ID, data); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.NotFound(t.kind, meta.ID)
		}
		return nil, errors.Wrap(err, "storage", string(t.kind), "update")
	}
	return e, nil
}

// Delete removes the row with id. Deleting a missing row is not an error.
func (t *Table[T, P]) Delete(ctx context.Context, id string) error {
	current, err := t.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := t.backend.Delete(ctx, string(t.kind), id, current.NaturalKey()); err != nil {
		return errors.Wrap(err, "storage", string(t.kind), "delete")
	}
	return nil
}

func displayKey(key string) string {
	b := []byte(key)
	for i := range b {
		if b[i] == model.KeySep[0] {
			b[i] = '/'
		}
	}
	return string(b)
}

func defaultID() string { return uuid.NewString() }
