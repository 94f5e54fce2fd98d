package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry resolves objects from an indexed table instead of a
// bounded history scan. It also backs the idempotent get-or-create mapping
// used by link-issuing collaborators.
type PostgresRegistry struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	now     func() time.Time
}

// NewPostgresRegistry connects to the database and ensures the schema.
func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	r := &PostgresRegistry{
		pool:    pool,
		timeout: defaultResolveTimeout,
		now:     time.Now,
	}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRegistry) Close() {
	r.pool.Close()
}

func (r *PostgresRegistry) migrate(ctx context.Context) error {
	const stmt = `
        CREATE TABLE IF NOT EXISTS objects (
            id BIGINT PRIMARY KEY,
            label TEXT UNIQUE NOT NULL,
            kind TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            mime TEXT NOT NULL DEFAULT '',
            size BIGINT NOT NULL,
            source TEXT NOT NULL,
            ref TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`
	_, err := r.pool.Exec(ctx, stmt)
	return err
}

// Resolve looks the record up by primary key and verifies the stored label.
func (r *PostgresRegistry) Resolve(ctx context.Context, objectID int64, code string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
        SELECT id, label, kind, name, mime, size, source, ref
        FROM objects WHERE id = $1;`

	var obj Object
	err := r.pool.QueryRow(ctx, query, objectID).Scan(
		&obj.ID, &obj.Label, &obj.Kind, &obj.Name, &obj.MIME,
		&obj.Size, &obj.Handle.Source, &obj.Handle.Ref,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if obj.Label != code {
		return nil, ErrForbidden
	}
	if err := finalize(&obj, r.now()); err != nil {
		return nil, err
	}
	return &obj, nil
}

// GetOrCreate records an object mapping, returning the existing record when
// one already carries the same label. Repeated calls for the same object are
// idempotent, so link issuance can be retried safely.
func (r *PostgresRegistry) GetOrCreate(ctx context.Context, obj *Object) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
        INSERT INTO objects (id, label, kind, name, mime, size, source, ref)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (label)
        DO UPDATE SET label = EXCLUDED.label
        RETURNING id, label, kind, name, mime, size, source, ref;`

	var out Object
	err := r.pool.QueryRow(ctx, query,
		obj.ID, obj.Label, obj.Kind, obj.Name, obj.MIME,
		obj.Size, obj.Handle.Source, obj.Handle.Ref,
	).Scan(
		&out.ID, &out.Label, &out.Kind, &out.Name, &out.MIME,
		&out.Size, &out.Handle.Source, &out.Handle.Ref,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// Lookup finds an existing record by label.
func (r *PostgresRegistry) Lookup(ctx context.Context, label string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
        SELECT id, label, kind, name, mime, size, source, ref
        FROM objects WHERE label = $1;`

	var obj Object
	err := r.pool.QueryRow(ctx, query, label).Scan(
		&obj.ID, &obj.Label, &obj.Kind, &obj.Name, &obj.MIME,
		&obj.Size, &obj.Handle.Source, &obj.Handle.Ref,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := finalize(&obj, r.now()); err != nil {
		return nil, err
	}
	return &obj, nil
}

var _ Registry = (*PostgresRegistry)(nil)
var _ Registry = (*ScanRegistry)(nil)
