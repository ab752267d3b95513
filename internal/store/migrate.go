package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// migrationLockKey serializes migration runs across API replicas.
const migrationLockKey = 0x636f646578

var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one numbered schema change with its rollback.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Migration
	AppliedAt *time.Time
}

// LoadMigrations reads NNNN_name.up.sql / NNNN_name.down.sql pairs from dir,
// ordered by version. Every version needs both halves.
func LoadMigrations(dir string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(f.Name())
		if match == nil {
			continue
		}
		version, name, direction := match[1], match[2], match[3]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %s has two names: %s and %s", version, m.Name, name)
		}
		path := filepath.Join(dir, f.Name())
		if direction == "up" {
			m.UpPath = path
		} else {
			m.DownPath = path
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" || m.DownPath == "" {
			return nil, fmt.Errorf("migration %s_%s needs both up and down files", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up migration, each in its own
// transaction, while holding an advisory lock.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			if _, ok := applied[m.Version]; ok {
				continue
			}
			if err := runMigration(ctx, conn, m.UpPath, m.Version,
				`INSERT INTO schema_migrations(version, name) VALUES($1, $2)`, m.Version, m.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

// RollbackMigration reverts the most recently applied migration and returns
// it. It returns (nil, nil) when nothing is applied.
func RollbackMigration(ctx context.Context, db *sql.DB, migrationsDir string) (*Migration, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	var reverted *Migration
	err = withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		for i := len(migrations) - 1; i >= 0; i-- {
			m := migrations[i]
			if _, ok := applied[m.Version]; !ok {
				continue
			}
			if err := runMigration(ctx, conn, m.DownPath, m.Version,
				`DELETE FROM schema_migrations WHERE version=$1`, m.Version); err != nil {
				return err
			}
			reverted = &m
			return nil
		}
		return nil
	})
	return reverted, err
}

// MigrationStatus lists every migration on disk with its applied time.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]MigrationState, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := MigrationState{Migration: m}
		if at, ok := applied[m.Version]; ok {
			state.AppliedAt = &at
		}
		out = append(out, state)
	}
	return out, nil
}

func withMigrationLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		// The caller's context may already be done; unlock regardless.
		if _, unlockErr := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); unlockErr != nil && err == nil {
			err = fmt.Errorf("unlock migrations: %w", unlockErr)
		}
	}()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func runMigration(ctx context.Context, conn *sql.Conn, path, version, record string, args ...any) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, conn *sql.Conn) (map[string]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return applied, nil
}
