package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
)

// DB is shared by every store. Stores never hold a *bun.Tx themselves; they ask Conn for the
// transaction bound to the context, if any.
type DB struct {
	Bun *bun.DB
	// LockTimeout bounds row lock waits in every outer transaction. Zero means no bound.
	LockTimeout time.Duration
}

type txKey struct{}

// Connect opens Postgres through lib/pq, retrying the ping like the other services do on boot.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	var sqldb *sql.DB
	var err error

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", retries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return &DB{Bun: bun.NewDB(sqldb, pgdialect.New()), LockTimeout: cfg.LockTimeout}, nil
}

// RunInTx runs fn in a transaction carried by ctx. Nested calls join the outer transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ctx = context.WithValue(ctx, txKey{}, tx)
		if err := d.SetLockTimeout(ctx, d.LockTimeout); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
		return fn(ctx)
	})
}

// Conn returns the transaction bound to ctx, or the pool.
func (d *DB) Conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return d.Bun
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bun.Tx)
	return ok
}

// IsPostgres is false for the sqlite databases used in tests, which have no row locks.
func IsPostgres(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

// SetLockTimeout bounds how long the current transaction waits on row locks.
func (d *DB) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	conn := d.Conn(ctx)
	if !IsPostgres(conn) || !InTx(ctx) || timeout <= 0 {
		return nil
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds()))
	return err
}

func (d *DB) Close() error {
	return d.Bun.Close()
}

const (
	pqUniqueViolation   = "23505"
	pqLockNotAvailable  = "55P03"
	pqSerialization     = "40001"
	pqDeadlockDetected  = "40P01"
	sqliteUniqueMessage = "UNIQUE constraint failed"
)

// IsUniqueViolation detects duplicate-key failures from either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return strings.Contains(err.Error(), sqliteUniqueMessage)
}

// IsTransient reports lock waits, serialization failures, deadlocks and context deadlines,
// which callers should retry rather than treat as hard failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqLockNotAvailable, pqSerialization, pqDeadlockDetected:
			return true
		}
	}
	return false
}

// IsNotFound wraps sql.ErrNoRows for callers that do not import database/sql.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
