package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// registers the "mysql" driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix is the table prefix placeholder used in statements
const DefaultPrefix = "wp_"

// DB wraps the MySQL connection pool and rewrites table prefixes
type DB struct {
	conn   *sql.DB
	prefix string
	logger *logrus.Logger
}

// Open connects to MySQL with the given DSN
func Open(dsn, prefix string, logger *logrus.Logger) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetConnMaxLifetime(3 * time.Minute)
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)

	return New(conn, prefix, logger), nil
}

// New wraps an existing connection pool
func New(conn *sql.DB, prefix string, logger *logrus.Logger) *DB {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &DB{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Prefix returns the configured table prefix
func (db *DB) Prefix() string {
	return db.prefix
}

// ReplaceTablePrefix rewrites backquoted `wp_ table names to the
// configured prefix
func (db *DB) ReplaceTablePrefix(query string) string {
	if db.prefix == DefaultPrefix {
		return query
	}
	return strings.ReplaceAll(query, "`"+DefaultPrefix, "`"+db.prefix)
}

// Query runs a statement returning rows
func (db *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	query = db.ReplaceTablePrefix(query)
	db.logger.Debugf("Executing query with %d arguments", len(args))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// QueryRow runs a statement returning at most one row
func (db *DB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.ReplaceTablePrefix(query), args...)
}

// Tx is a transaction that rewrites table prefixes
type Tx struct {
	tx *sql.Tx
	db *DB
}

// Exec runs a statement inside the transaction
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.db.ReplaceTablePrefix(query), args...)
	if err != nil {
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	return res, nil
}

// WithTx runs fn in a transaction, committing when it returns nil and
// rolling back otherwise
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx, db: db}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			db.logger.Warnf("Failed to roll back transaction: %v", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Stats returns connection pool statistics
func (db *DB) Stats() map[string]interface{} {
	s := db.conn.Stats()
	return map[string]interface{}{
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"idle":             s.Idle,
		"wait_count":       s.WaitCount,
		"wait_duration_ms": s.WaitDuration.Milliseconds(),
	}
}

// Close closes the pool
func (db *DB) Close() error {
	return db.conn.Close()
}
