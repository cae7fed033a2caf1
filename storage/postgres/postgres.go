// Package postgres stores records in a single PostgreSQL table with a
// unique constraint on (kind, natural_key).
package postgres

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/storage"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS namos_records (
	kind        text  NOT NULL,
	id          text  NOT NULL,
	natural_key text  NOT NULL,
	data        jsonb NOT NULL,
	PRIMARY KEY (kind, id),
	UNIQUE (kind, natural_key)
)`

// Backend implements storage.Backend on a pgx pool.
type Backend struct {
	pool *pgxpool.Pool
}

var (
	_ storage.Backend  = (*Backend)(nil)
	_ storage.Migrator = (*Backend)(nil)
)

// Open connects to dsn.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "Open", "connect")
	}
	return New(pool), nil
}

// New wraps an existing pool. Close closes the pool.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Migrate creates the records table.
func (b *Backend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return errors.WrapFatal(err, "postgres", "Migrate", "create schema")
	}
	return nil
}

// Truncate removes every record.
func (b *Backend) Truncate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, `TRUNCATE namos_records`); err != nil {
		return errors.WrapTransient(err, "postgres", "Truncate", "truncate records")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Create implements storage.Backend.
func (b *Backend) Create(ctx context.Context, kind, id, key string, data []byte) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO namos_records (kind, id, natural_key, data) VALUES ($1, $2, $3, $4)`,
		kind, id, key, data)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return errors.WrapTransient(err, "postgres", "Create", "insert record")
	}
	return nil
}

func (b *Backend) one(ctx context.Context, method, query string, args ...any) ([]byte, error) {
	var data []byte
	if err := b.pool.QueryRow(ctx, query, args...).Scan(&data); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "postgres", method, "query record")
	}
	return data, nil
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, kind, id string) ([]byte, error) {
	return b.one(ctx, "Get",
		`SELECT data FROM namos_records WHERE kind = $1 AND id = $2`, kind, id)
}

// GetByKey implements storage.Backend.
func (b *Backend) GetByKey(ctx context.Context, kind, key string) ([]byte, error) {
	return b.one(ctx, "GetByKey",
		`SELECT data FROM namos_records WHERE kind = $1 AND natural_key = $2`, kind, key)
}

// List implements storage.Backend.
func (b *Backend) List(ctx context.Context, kind string) ([][]byte, error) {
	rows, err := b.pool.Query(ctx, `SELECT data FROM namos_records WHERE kind = $1`, kind)
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "List", "query records")
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "postgres", "List", "scan record")
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "postgres", "List", "iterate records")
	}
	return out, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(ctx context.Context, kind, id string, data []byte) error {
	tag, err := b.pool.Exec(ctx,
		`UPDATE namos_records SET data = $3 WHERE kind = $1 AND id = $2`, kind, id, data)
	if err != nil {
		return errors.WrapTransient(err, "postgres", "Put", "update record")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete implements storage.Backend. The natural key row goes with the record.
func (b *Backend) Delete(ctx context.Context, kind, id, _ string) error {
	if _, err := b.pool.Exec(ctx,
		`DELETE FROM namos_records WHERE kind = $1 AND id = $2`, kind, id); err != nil {
		return errors.WrapTransient(err, "postgres", "Delete", "delete record")
	}
	return nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
