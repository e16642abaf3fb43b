// Package storage persists the credit ledger in PostgreSQL.
//
// Three tables back the ledger:
//
//	user_credits        one balance row per user
//	credit_transactions append-only ledger of every balance mutation
//	api_credit_configs  one cost rule per (endpoint, method)
//
// All balance mutations run inside a single database transaction via WithTx;
// the database's isolation is the only synchronization mechanism.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection pool and the cost-config cache.
type DB struct {
	conn *sqlx.DB

	costConfigCache *LRUCache
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	CostConfigCacheSize int
	CostConfigCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		CostConfigCacheSize: 500,
		CostConfigCacheTTL:  5 * time.Minute,
	}
}

// NewDB connects to PostgreSQL and configures the connection pool.
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewDBWithConn(conn, cfg), nil
}

// NewDBWithConn wraps an existing connection. Used by NewDB and by tests
// that back the pool with sqlmock.
func NewDBWithConn(conn *sqlx.DB, cfg DBConfig) *DB {
	size := cfg.CostConfigCacheSize
	if size <= 0 {
		size = DefaultDBConfig().CostConfigCacheSize
	}
	ttl := cfg.CostConfigCacheTTL
	if ttl <= 0 {
		ttl = DefaultDBConfig().CostConfigCacheTTL
	}

	return &DB{
		conn:            conn,
		costConfigCache: NewLRUCache(size, ttl),
	}
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.costConfigCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// WithTx runs fn inside a database transaction. The transaction is rolled
// back on any error from fn, so partial mutations are never visible.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn returns the underlying sqlx connection
// Use this for custom queries not covered by repositories
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CostConfigCache returns the cost-config cache
func (db *DB) CostConfigCache() *LRUCache {
	return db.costConfigCache
}

// Repository factory methods

// NewCreditsRepository creates a new credits repository
func (db *DB) NewCreditsRepository() *CreditsRepository {
	return NewCreditsRepository(db)
}

// NewCostConfigRepository creates a new cost config repository
func (db *DB) NewCostConfigRepository() *CostConfigRepository {
	return NewCostConfigRepository(db)
}
