package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Drivers accepted by NewStore.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrNotFound is returned when no row matches under the given tenant.
	ErrNotFound = errors.New("not found")
	// ErrWrongTenant is returned when the row exists but belongs to another tenant.
	ErrWrongTenant = errors.New("row belongs to another tenant")
	// ErrNegativeStock is returned when an out movement would take stock below zero.
	ErrNegativeStock = errors.New("stock would become negative")
	// ErrStockOverflow is returned when an in movement would take stock past math.MaxInt64.
	ErrStockOverflow = errors.New("stock would overflow")
	// ErrDuplicateKey is returned on a unique constraint violation.
	ErrDuplicateKey = errors.New("duplicate key")
)

type Store struct {
	db          *sqlx.DB
	driver      string
	lockTimeout time.Duration
}

// NewStore opens the database, applies the schema and returns a Store whose
// transactions are bounded by lockTimeout.
func NewStore(driver, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// one connection: serializes transactions and keeps :memory: alive
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	s := &Store{db: db, driver: driver, lockTimeout: lockTimeout}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction bounded by the lock timeout. The
// transaction commits only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.isPostgres() {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) isPostgres() bool {
	return s.driver == DriverPostgres
}

// rebind converts ? placeholders to the driver's bindvar style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// forUpdate is the row lock suffix. SQLite has no row locks; its single
// connection already serializes writers.
func (s *Store) forUpdate() string {
	if s.isPostgres() {
		return " FOR UPDATE"
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// SortedUnique returns ids de-duplicated in ascending order, the global lock order.
func SortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.isPostgres() {
		ts = "TIMESTAMPTZ"
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		tenant_id     TEXT    NOT NULL,
		id            TEXT    NOT NULL,
		name          TEXT    NOT NULL DEFAULT '',
		unit_price    BIGINT  NOT NULL CHECK (unit_price >= 0),
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		stock_on_hand BIGINT  NOT NULL DEFAULT 0 CHECK (stock_on_hand >= 0),
		updated_at    {{ts}}  NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_id ON products (id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id             TEXT   PRIMARY KEY,
		tenant_id      TEXT   NOT NULL,
		product_id     TEXT   NOT NULL,
		quantity       BIGINT NOT NULL CHECK (quantity > 0),
		direction      TEXT   NOT NULL CHECK (direction IN ('in', 'out')),
		reference_kind TEXT   NOT NULL CHECK (reference_kind IN ('sale', 'cancellation', 'adjustment')),
		reference_id   TEXT   NOT NULL,
		operator_id    TEXT   NOT NULL,
		note           TEXT   NOT NULL DEFAULT '',
		created_at     {{ts}} NOT NULL,
		FOREIGN KEY (tenant_id, product_id) REFERENCES products (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements (tenant_id, product_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_reference ON stock_movements (tenant_id, reference_kind, reference_id)`,
	`CREATE TABLE IF NOT EXISTS tenant_sequences (
		tenant_id  TEXT   PRIMARY KEY,
		last_value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id              TEXT   PRIMARY KEY,
		tenant_id       TEXT   NOT NULL,
		sequence_number BIGINT NOT NULL,
		buyer_ref       TEXT,
		subtotal        BIGINT NOT NULL CHECK (subtotal >= 0),
		discount        BIGINT NOT NULL CHECK (discount >= 0),
		total           BIGINT NOT NULL CHECK (total >= 0),
		amount_paid     BIGINT NOT NULL CHECK (amount_paid >= total),
		change_due      BIGINT NOT NULL CHECK (change_due >= 0),
		payment_method  TEXT   NOT NULL,
		operator_id     TEXT   NOT NULL,
		status          TEXT   NOT NULL CHECK (status IN ('committed', 'cancelled')),
		idempotency_key TEXT,
		created_at      {{ts}} NOT NULL,
		cancelled_at    {{ts}},
		UNIQUE (tenant_id, sequence_number),
		UNIQUE (tenant_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS sale_line_items (
		id         TEXT    PRIMARY KEY,
		sale_id    TEXT    NOT NULL REFERENCES sales (id),
		tenant_id  TEXT    NOT NULL,
		line_no    INTEGER NOT NULL,
		product_id TEXT    NOT NULL,
		quantity   BIGINT  NOT NULL CHECK (quantity > 0),
		unit_price BIGINT  NOT NULL CHECK (unit_price >= 0),
		line_total BIGINT  NOT NULL,
		UNIQUE (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS sale_cancellations (
		id          TEXT   PRIMARY KEY,
		sale_id     TEXT   NOT NULL UNIQUE REFERENCES sales (id),
		tenant_id   TEXT   NOT NULL,
		operator_id TEXT   NOT NULL,
		reason      TEXT   NOT NULL DEFAULT '',
		created_at  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_records (
		id           TEXT          PRIMARY KEY,
		sale_id      TEXT          NOT NULL,
		tenant_id    TEXT          NOT NULL,
		kind         TEXT          NOT NULL CHECK (kind IN ('payment', 'refund')),
		amount       NUMERIC(14,2) NOT NULL,
		amount_minor BIGINT        NOT NULL,
		method       TEXT          NOT NULL,
		created_at   {{ts}}        NOT NULL,
		UNIQUE (tenant_id, sale_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id     TEXT   PRIMARY KEY,
		event_type   TEXT   NOT NULL,
		processed_at {{ts}} NOT NULL
	)`,
}
