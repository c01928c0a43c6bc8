package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

type PostgreSQL struct {
	URL         string
	MaxConns    int32
	LockTimeout time.Duration
}

// Connect opens a pool whose sessions all carry lock_timeout, so a blocked
// SELECT ... FOR UPDATE fails with 55P03 instead of waiting forever.
func (pg *PostgreSQL) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pg.ConnectionURI())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if pg.MaxConns > 0 {
		cfg.MaxConns = pg.MaxConns
	}
	cfg.MaxConnIdleTime = 30 * time.Minute
	if pg.LockTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["lock_timeout"] = strconv.FormatInt(pg.LockTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return pool, nil
}

func (pg *PostgreSQL) Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

func (pg *PostgreSQL) ConnectionURI() string {
	return pg.URL
}
