package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbStartupPingTimeout bounds the connectivity check at pool construction.
const dbStartupPingTimeout = 3 * time.Second

// NewDBPool opens the pgx pool backing the board document store and verifies
// it can hand out a connection before the server starts taking traffic.
//
// It does not create or migrate anything: the single boards table
// (id text primary key, doc jsonb, updated_at timestamptz) under
// KANVA_DB_SCHEMA is provisioned out of band, and PostgresStore assumes it
// exists.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pc.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pc.MinConns = cfg.DBMinConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "kanva"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := PingDB(ctx, pool, dbStartupPingTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return pool, nil
}

// PingDB acquires one connection and round-trips it within timeout. Shared by
// pool construction and the /readyz handler.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	return conn.Ping(ctx)
}
