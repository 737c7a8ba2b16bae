// Package sqlstore persists products and the allocations view with sqlx, on Postgres or SQLite.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the database and verifies the connection. SQLite is limited to a single
// connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("cannot open database: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}

	return db, nil
}

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_allocation",
			Up: []string{
				`CREATE TABLE products (
					sku VARCHAR(255) PRIMARY KEY,
					version_number INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE batches (
					reference VARCHAR(255) PRIMARY KEY,
					sku VARCHAR(255) NOT NULL REFERENCES products (sku),
					purchased_quantity INTEGER NOT NULL,
					eta TIMESTAMP NULL
				)`,
				`CREATE INDEX batches_sku ON batches (sku)`,
				`CREATE TABLE allocations (
					batch_reference VARCHAR(255) NOT NULL REFERENCES batches (reference),
					seq INTEGER NOT NULL,
					orderid VARCHAR(255) NOT NULL,
					sku VARCHAR(255) NOT NULL,
					qty INTEGER NOT NULL,
					PRIMARY KEY (batch_reference, seq)
				)`,
			},
			Down: []string{
				`DROP TABLE allocations`,
				`DROP INDEX batches_sku`,
				`DROP TABLE batches`,
				`DROP TABLE products`,
			},
		},
		{
			Id: "0002_allocations_view",
			Up: []string{
				`CREATE TABLE allocations_view (
					orderid VARCHAR(255) NOT NULL,
					sku VARCHAR(255) NOT NULL,
					batchref VARCHAR(255) NOT NULL
				)`,
				`CREATE INDEX allocations_view_orderid ON allocations_view (orderid)`,
			},
			Down: []string{
				`DROP INDEX allocations_view_orderid`,
				`DROP TABLE allocations_view`,
			},
		},
	},
}

func dialect(db *sqlx.DB) string {
	if db.DriverName() == DriverSQLite {
		return "sqlite3"
	}

	return "postgres"
}

// Migrate applies pending migrations and returns how many ran.
func Migrate(db *sqlx.DB) (int, error) {
	n, err := migrate.Exec(db.DB, dialect(db), migrations, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("database migration failed: %w", err)
	}

	return n, nil
}

// MigrateDown reverts the most recent max migrations; max 0 reverts all.
func MigrateDown(db *sqlx.DB, max int) (int, error) {
	n, err := migrate.ExecMax(db.DB, dialect(db), migrations, migrate.Down, max)
	if err != nil {
		return n, fmt.Errorf("database migration failed: %w", err)
	}

	return n, nil
}
