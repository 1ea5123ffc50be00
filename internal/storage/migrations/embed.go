// Package migrations embeds the SQL schema of each storage backend and
// applies pending versions in order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// Dialect holds the backend-specific statements of the migration runner.
type Dialect struct {
	Name      string
	Bootstrap string
	Record    string
	files     embed.FS
	dir       string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		Bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		Record: "INSERT OR REPLACE INTO schema_migrations (version) VALUES (?)",
		files:  sqliteFS,
		dir:    "sqlite",
	}

	Postgres = Dialect{
		Name: "postgres",
		Bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		Record: "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING",
		files:  postgresFS,
		dir:    "postgres",
	}
)

// Files lists the migration files of d in version order
func (d Dialect) Files() ([]string, error) {
	entries, err := fs.ReadDir(d.files, d.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Latest returns the highest version shipped for d
func (d Dialect) Latest() int {
	files, err := d.Files()
	if err != nil {
		return 0
	}
	latest := 0
	for _, name := range files {
		if v, err := ParseVersion(name); err == nil && v > latest {
			latest = v
		}
	}
	return latest
}

// Apply runs every migration newer than the recorded schema version, each
// in its own transaction, and returns how many were applied.
func Apply(ctx context.Context, db *sql.DB, d Dialect, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.ExecContext(ctx, d.Bootstrap); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}

	files, err := d.Files()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range files {
		version, err := ParseVersion(name)
		if err != nil {
			logger.Warn("skipping non-migration file", "name", name, "error", err)
			continue
		}
		if version <= current {
			continue
		}

		data, err := fs.ReadFile(d.files, d.dir+"/"+name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin tx for migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, d.Record, version); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", name, err)
		}

		applied++
		logger.Info("applied migration", "dialect", d.Name, "name", name, "version", version)
	}

	return applied, nil
}

// Version returns the current schema version, 0 before any migration.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

// ParseVersion extracts the version from a filename like "001_initial.sql".
func ParseVersion(name string) (int, error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid migration filename: %s", name)
	}
	var version int
	if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return version, nil
}
