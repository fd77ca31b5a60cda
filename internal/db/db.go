// Package db provides the PostgreSQL-backed plan store. Repositories accept
// a DBTX interface that is satisfied by both *pgxpool.Pool and pgx.Tx.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rollcall/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// schema creates the plan store tables. Dates and times of day are stored as
// the text the session key is built from, so keys round-trip unchanged.
const schema = `
CREATE TABLE IF NOT EXISTS planned_jobs (
    id            TEXT PRIMARY KEY,
    session_date  TEXT NOT NULL,
    session_name  TEXT NOT NULL,
    start_tod     TEXT NOT NULL,
    end_tod       TEXT NOT NULL,
    session_start TIMESTAMPTZ NOT NULL,
    session_end   TIMESTAMPTZ NOT NULL,
    firing_time   TIMESTAMPTZ NOT NULL,
    window_id     TEXT NOT NULL,
    window_start  TIMESTAMPTZ NOT NULL,
    window_end    TIMESTAMPTZ NOT NULL,
    state         TEXT NOT NULL,
    outcome       TEXT NOT NULL DEFAULT '',
    UNIQUE (session_date, session_name, start_tod, end_tod)
);

CREATE INDEX IF NOT EXISTS planned_jobs_firing_time_idx ON planned_jobs (firing_time);

CREATE TABLE IF NOT EXISTS attendance_records (
    session_start TIMESTAMPTZ PRIMARY KEY,
    firing_tod    TEXT NOT NULL
);
`

// NewPool connects to databaseURL and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the plan store tables if they do not exist.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create plan store schema", err)
	}
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
