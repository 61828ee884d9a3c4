package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the ledger image at dbPath up to the latest schema.
// Images written before versioning existed are baselined from their shape
// first, so only the missing steps run against them.
func RunMigrations(ctx context.Context, dbPath string) error {
	// Separate connection: closing the migrate instance closes its database.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	baseline, err := legacyBaseline(ctx, migrateDB)
	if err != nil {
		return fmt.Errorf("inspect legacy schema: %w", err)
	}

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if baseline > 0 {
		slog.InfoContext(ctx, "Baselining unversioned ledger image", "version", baseline)
		if err := m.Force(baseline); err != nil {
			return fmt.Errorf("force baseline version %d: %w", baseline, err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the migration version recorded inside the image.
func SchemaVersion(ctx context.Context, db *sql.DB) (uint, bool, error) {
	ok, err := tableExists(ctx, db, "schema_migrations")
	if err != nil || !ok {
		return 0, false, err
	}
	var (
		version uint
		dirty   bool
	)
	err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// legacyBaseline maps an image without schema_migrations to the migration
// version its tables already satisfy. Zero means "run everything".
func legacyBaseline(ctx context.Context, db *sql.DB) (int, error) {
	versioned, err := tableExists(ctx, db, "schema_migrations")
	if err != nil || versioned {
		return 0, err
	}
	hasExpenses, err := tableExists(ctx, db, "expenses")
	if err != nil {
		return 0, err
	}
	hasCategories, err := tableExists(ctx, db, "categories")
	if err != nil {
		return 0, err
	}
	if !hasExpenses || !hasCategories {
		return 0, nil
	}

	version := 1
	cols, err := columns(ctx, db, "expenses")
	if err != nil {
		return 0, err
	}
	if cols["type"] {
		version = 2
	} else {
		return version, nil
	}
	hasAccounts, err := tableExists(ctx, db, "accounts")
	if err != nil {
		return 0, err
	}
	if !hasAccounts {
		return version, nil
	}
	version = 3
	if cols["account_id"] {
		version = 4
	}
	return version, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", name, err)
	}
	return n > 0, nil
}

func columns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		out[name] = true
	}
	return out, rows.Err()
}
