package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig bounds the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPool suits a single auth service instance. Rotation holds a
// connection for one short transaction.
var DefaultPool = PoolConfig{
	MaxOpenConns:    20,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
	PingTimeout:     5 * time.Second,
}

// Open opens a Postgres connection pool with DefaultPool. Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	return OpenWithPool(dsn, DefaultPool)
}

// OpenWithPool opens a Postgres connection pool through the pgx driver and pings it.
func OpenWithPool(dsn string, pool PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	timeout := pool.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPool.PingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
