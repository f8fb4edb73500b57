package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect captures the few statements that differ between MySQL and SQLite.
type Dialect struct {
	Name   string
	schema string

	upsertBusiness string
	upsertSettings string
	upsertMenuItem string
}

var (
	MySQL = Dialect{
		Name:   "mysql",
		schema: mysqlSchema,
		upsertBusiness: `INSERT INTO businesses (id, name, phone, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), phone = VALUES(phone), api_key_hash = VALUES(api_key_hash)`,
		upsertSettings: `INSERT INTO business_settings (business_id, checkin_enabled, checkin_delay_seconds, low_stock_threshold) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE checkin_enabled = VALUES(checkin_enabled), checkin_delay_seconds = VALUES(checkin_delay_seconds), low_stock_threshold = VALUES(low_stock_threshold)`,
		upsertMenuItem: `INSERT INTO menu_items (business_id, name, price_cents, stock) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE price_cents = VALUES(price_cents), stock = VALUES(stock)`,
	}

	SQLite = Dialect{
		Name:   "sqlite",
		schema: sqliteSchema,
		upsertBusiness: `INSERT INTO businesses (id, name, phone, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone, api_key_hash = excluded.api_key_hash`,
		upsertSettings: `INSERT INTO business_settings (business_id, checkin_enabled, checkin_delay_seconds, low_stock_threshold) VALUES (?, ?, ?, ?)
			ON CONFLICT(business_id) DO UPDATE SET checkin_enabled = excluded.checkin_enabled, checkin_delay_seconds = excluded.checkin_delay_seconds, low_stock_threshold = excluded.low_stock_threshold`,
		upsertMenuItem: `INSERT INTO menu_items (business_id, name, price_cents, stock) VALUES (?, ?, ?, ?)
			ON CONFLICT(business_id, name) DO UPDATE SET price_cents = excluded.price_cents, stock = excluded.stock`,
	}
)

// DialectFor returns the dialect for a DB_DRIVER value.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "sqlite", "":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open opens the database for dialect and applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if dialect.Name == "sqlite" {
		db, err = OpenSQLite(dsn)
	} else {
		db, err = sql.Open(dialect.Name, dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := EnsureSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a SQLite database connection and configures pragmas.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	return db, nil
}

// EnsureSchema creates all tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range strings.Split(dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS businesses (
    id           VARCHAR(64) PRIMARY KEY,
    name         TEXT NOT NULL,
    phone        TEXT NOT NULL DEFAULT '',
    api_key_hash TEXT NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS business_settings (
    business_id           VARCHAR(64) PRIMARY KEY,
    checkin_enabled       INTEGER NOT NULL DEFAULT 1,
    checkin_delay_seconds INTEGER NOT NULL DEFAULT 900,
    low_stock_threshold   INTEGER NOT NULL DEFAULT 5
);

CREATE TABLE IF NOT EXISTS menu_items (
    business_id VARCHAR(64) NOT NULL,
    name        VARCHAR(128) NOT NULL,
    price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
    stock       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (business_id, name)
);

CREATE TABLE IF NOT EXISTS orders (
    id                VARCHAR(32) PRIMARY KEY,
    business_id       VARCHAR(64) NOT NULL,
    customer_identity VARCHAR(128) NOT NULL,
    customer_name     TEXT NOT NULL DEFAULT '',
    table_number      TEXT NOT NULL DEFAULT '',
    total_cents       BIGINT NOT NULL,
    status            VARCHAR(32) NOT NULL,
    channel           VARCHAR(32) NOT NULL DEFAULT '',
    created_at        BIGINT NOT NULL,
    updated_at        BIGINT NOT NULL,
    paid_at           BIGINT,
    completed_at      BIGINT
);

CREATE INDEX IF NOT EXISTS idx_orders_business ON orders(business_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(business_id, customer_identity, status);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS order_items (
    order_id    VARCHAR(32) NOT NULL REFERENCES orders(id),
    line_no     INTEGER NOT NULL,
    name        VARCHAR(128) NOT NULL,
    quantity    INTEGER NOT NULL CHECK (quantity > 0),
    price_cents BIGINT NOT NULL,
    PRIMARY KEY (order_id, line_no)
);
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS businesses (
    id           VARCHAR(64) PRIMARY KEY,
    name         VARCHAR(255) NOT NULL,
    phone        VARCHAR(64) NOT NULL DEFAULT '',
    api_key_hash VARCHAR(255) NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS business_settings (
    business_id           VARCHAR(64) PRIMARY KEY,
    checkin_enabled       TINYINT NOT NULL DEFAULT 1,
    checkin_delay_seconds INT NOT NULL DEFAULT 900,
    low_stock_threshold   INT NOT NULL DEFAULT 5
);

CREATE TABLE IF NOT EXISTS menu_items (
    business_id VARCHAR(64) NOT NULL,
    name        VARCHAR(128) NOT NULL,
    price_cents BIGINT NOT NULL,
    stock       INT NOT NULL DEFAULT 0,
    PRIMARY KEY (business_id, name)
);

CREATE TABLE IF NOT EXISTS orders (
    id                VARCHAR(32) PRIMARY KEY,
    business_id       VARCHAR(64) NOT NULL,
    customer_identity VARCHAR(128) NOT NULL,
    customer_name     VARCHAR(255) NOT NULL DEFAULT '',
    table_number      VARCHAR(32) NOT NULL DEFAULT '',
    total_cents       BIGINT NOT NULL,
    status            VARCHAR(32) NOT NULL,
    channel           VARCHAR(32) NOT NULL DEFAULT '',
    created_at        BIGINT NOT NULL,
    updated_at        BIGINT NOT NULL,
    paid_at           BIGINT NULL,
    completed_at      BIGINT NULL,
    INDEX idx_orders_business (business_id, created_at),
    INDEX idx_orders_customer (business_id, customer_identity, status),
    INDEX idx_orders_status (status)
);

CREATE TABLE IF NOT EXISTS order_items (
    order_id    VARCHAR(32) NOT NULL,
    line_no     INT NOT NULL,
    name        VARCHAR(128) NOT NULL,
    quantity    INT NOT NULL,
    price_cents BIGINT NOT NULL,
    PRIMARY KEY (order_id, line_no)
);
`
