// Package storage persists the run ledger.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// NormalizeDriver maps driver aliases to a registered driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3", "":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the database and checks the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if name == DriverSQLite {
		// One connection keeps in-memory databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	return db, nil
}

// Migrate applies pending migrations for driver and records them in
// schema_migrations. SQLite prefers a "_sqlite.sql" variant of a migration
// when one exists.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return err
	}
	if err := ensureSchemaMigrationsTable(ctx, db, name); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	files, err := migrationsFor(name)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range files {
		if applied[m.version] {
			continue
		}
		body, err := migrationFiles.ReadFile("migrations/" + m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("run migration %s: %w", m.file, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.file, err)
		}
	}
	return nil
}

type migration struct {
	version string
	file    string
}

func migrationsFor(driver string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}

	sqlite := make(map[string]string)
	regular := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, "_sqlite.sql"):
			sqlite[strings.TrimSuffix(name, "_sqlite.sql")] = name
		case strings.HasSuffix(name, ".sql"):
			regular[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	var out []migration
	for version, file := range regular {
		if driver == DriverSQLite {
			if alt, ok := sqlite[version]; ok {
				file = alt
			}
		}
		out = append(out, migration{version: version, file: file})
	}
	if driver == DriverSQLite {
		for version, file := range sqlite {
			if _, ok := regular[version]; !ok {
				out = append(out, migration{version: version, file: file})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db DB, driver string) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if driver == DriverSQLite {
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)
		`
	}
	_, err := db.ExecContext(ctx, query)
	return err
}

func appliedVersions(ctx context.Context, db DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}
