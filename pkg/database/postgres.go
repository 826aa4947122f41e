package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps a pgxpool connection pool. The pool is shared by request handling
// and both background loops; concurrency bounds live in the callers.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection creates a new database connection pool.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// WaitForConnection blocks until the database is reachable, retrying with a
// fixed delay. The server must not accept traffic before this returns.
func WaitForConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	const retryDelay = 5 * time.Second

	for {
		db, err := NewConnection(ctx, cfg)
		if err == nil {
			return db, nil
		}

		logger.Info("Waiting for database to boot up...", zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for database: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
