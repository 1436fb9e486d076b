// Package postgres is the audit store backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/idempotency"
)

type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pool. maxConns <= 0 keeps the pgxpool default; a positive
// queryTimeout bounds connects and becomes the session statement_timeout.
func Connect(ctx context.Context, dsn string, maxConns int32, queryTimeout time.Duration) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if queryTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = queryTimeout
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(queryTimeout.Milliseconds(), 10)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storageErr("pgxpool", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *DB) Ready(ctx context.Context) error {
	var one int
	if err := db.Pool.QueryRow(ctx, "select 1").Scan(&one); err != nil {
		return storageErr("ready", err)
	}
	return nil
}

// RunMigration executes a single SQL file. Statements are idempotent.
func (db *DB) RunMigration(ctx context.Context, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sqlBytes)); err != nil {
		return storageErr("exec migration", err)
	}
	return nil
}

// WithEventLock runs fn while holding a session advisory lock keyed by the
// event id. The lock lives on one pooled connection for the whole call.
func (db *DB) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return storageErr("acquire lock conn", err)
	}
	defer conn.Release()

	key := idempotency.LockKey(eventID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return storageErr("advisory lock", err)
	}
	defer func() {
		// unlock even when ctx is already cancelled
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key)
	}()
	return fn(ctx)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
