package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"homestyle/internal/model"
)

// DB wraps sql.DB for the booking ledger and stylist schedules.
type DB struct {
	*sql.DB
	loc *time.Location
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens database at path and runs migrations. Write transactions are
// started with BEGIN IMMEDIATE so the admission check never races another
// writer between its read and its insert.
func NewDB(path string, loc *time.Location) (*DB, error) {
	if loc == nil {
		loc = time.UTC
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, loc: loc}, nil
}

// Location is the timezone used to interpret calendar dates.
func (db *DB) Location() *time.Location {
	return db.loc
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS stylists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			travel_radius_km REAL NOT NULL DEFAULT 0,
			service_area TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stylist_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			duration INTEGER NOT NULL,
			price REAL NOT NULL,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			FOREIGN KEY (stylist_id) REFERENCES stylists(id)
		)`,

		// One row per (stylist, day); the weekly set is replaced wholesale.
		`CREATE TABLE IF NOT EXISTS stylist_availability (
			stylist_id INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (stylist_id, day_of_week),
			FOREIGN KEY (stylist_id) REFERENCES stylists(id)
		)`,

		`CREATE TABLE IF NOT EXISTS time_off_periods (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stylist_id INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (stylist_id) REFERENCES stylists(id)
		)`,

		// scheduled_at and ends_at are unix seconds.
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			stylist_id INTEGER NOT NULL,
			scheduled_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			client_address TEXT NOT NULL,
			special_requests TEXT,
			price_multiplier REAL NOT NULL DEFAULT 1,
			total_price REAL NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			reminded_at INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (stylist_id) REFERENCES stylists(id)
		)`,

		`CREATE TABLE IF NOT EXISTS booking_services (
			booking_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			PRIMARY KEY (booking_id, service_id),
			FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE,
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_services_stylist ON services(stylist_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_time_off_stylist ON time_off_periods(stylist_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_stylist_times ON bookings(stylist_id, scheduled_at, ends_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_reminder ON bookings(status, scheduled_at) WHERE reminded_at IS NULL`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Tx is an open write transaction against the ledger.
type Tx struct {
	tx  *sql.Tx
	loc *time.Location
}

// InTx runs fn inside a single IMMEDIATE transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx model.LedgerTx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx, loc: db.loc}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
