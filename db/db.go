package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Pool bounds the connection pool behind the room-state store. Each room
// commit is a single upsert, so a small pool is enough.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}

func DefaultPool() Pool {
	return Pool{
		MaxOpen:     16,
		MaxIdle:     4,
		MaxLifetime: 5 * time.Minute,
		PingTimeout: 5 * time.Second,
	}
}

// Connect opens a postgres handle for dsn and checks that the server answers
// within the pool's ping timeout.
func Connect(ctx context.Context, dsn string, pool Pool, logger *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}
	if err := verify(ctx, conn, pool, logger); err != nil {
		return nil, err
	}
	return conn, nil
}

// verify applies the pool limits and pings. The handle is closed when the
// ping fails.
func verify(ctx context.Context, conn *sql.DB, pool Pool, logger *slog.Logger) error {
	conn.SetMaxOpenConns(pool.MaxOpen)
	conn.SetMaxIdleConns(pool.MaxIdle)
	conn.SetConnMaxLifetime(pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close database handle after ping error", slog.Any("error", closeErr))
		}
		return fmt.Errorf("failed to ping database within %v: %w", pool.PingTimeout, err)
	}

	logger.Info("database connected", slog.Int("max_open", pool.MaxOpen), slog.Int("max_idle", pool.MaxIdle))
	return nil
}
