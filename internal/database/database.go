package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB owns the SQLite connection pool. Write transactions start with
// BEGIN IMMEDIATE so a read-check-write sequence inside WithTx cannot
// interleave with another writer.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

type Option func(*options)

func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store exposes the table operations over either the pool or a transaction.
type Store struct {
	q querier
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on",
		path, o.busyTimeout.Milliseconds())
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else if o.maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(o.maxOpenConns)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}
	l.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: sqlDB, logger: l}, nil
}

// Store returns a Store that runs each statement in autocommit mode.
func (db *DB) Store() *Store {
	return &Store{q: db.DB}
}

// WithTx runs fn inside a single write transaction. Any error returned by fn
// rolls back every statement fn issued.
func (db *DB) WithTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            unit_id INTEGER NOT NULL,
            guest_id INTEGER NOT NULL DEFAULT 0,
            guest_name TEXT NOT NULL,
            guest_phone TEXT NOT NULL DEFAULT '',
            guest_chat_id INTEGER NOT NULL DEFAULT 0,
            check_in TEXT NOT NULL,
            check_out TEXT NOT NULL,
            status TEXT NOT NULL,
            total_amount TEXT NOT NULL DEFAULT '0',
            paid_amount TEXT NOT NULL DEFAULT '0',
            currency TEXT NOT NULL,
            payment_status TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            confirmed_at DATETIME,
            checked_in_at DATETIME,
            checked_out_at DATETIME,
            cancelled_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS availability_blocks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            unit_id INTEGER NOT NULL,
            booking_id INTEGER UNIQUE,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            kind TEXT NOT NULL,
            status TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (start_date < end_date)
        )`,
		`CREATE TABLE IF NOT EXISTS outbox_messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            topic TEXT NOT NULL,
            event_type TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            correlation_id TEXT NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'pending',
            next_attempt_at DATETIME NOT NULL,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            published_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS automation_schedules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            event_type TEXT NOT NULL,
            due_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            next_attempt_at DATETIME,
            created_at DATETIME NOT NULL,
            completed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS communication_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            event_type TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            channel TEXT NOT NULL,
            status TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            UNIQUE (tenant_id, idempotency_key)
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            amount TEXT NOT NULL,
            currency TEXT NOT NULL,
            method TEXT NOT NULL DEFAULT '',
            order_id TEXT NOT NULL,
            provider_payment_id TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL,
            completed_at DATETIME,
            updated_at DATETIME NOT NULL,
            UNIQUE (tenant_id, order_id)
        )`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            status_code INTEGER NOT NULL,
            response_body TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            UNIQUE (tenant_id, key)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_unit_status ON bookings(unit_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_updated ON bookings(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_unit_status_range ON availability_blocks(unit_id, status, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status_next ON outbox_messages(status, next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox_messages(entity_id, event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_status_due ON automation_schedules(status, due_at)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_booking ON automation_schedules(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments(booking_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
