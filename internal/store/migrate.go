package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded SQL migrations in filename order and
// records each one with its checksum in schema_migrations.
type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger *slog.Logger
}

// NewMigrator returns a Migrator over the embedded migrations.
func NewMigrator(pool *pgxpool.Pool, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &Migrator{pool: pool, files: sub, logger: logger.With("component", "migrator")}
}

// ApplyAll applies every pending migration. Already-applied files are
// checked against their recorded checksum; an edited migration is an error.
func (m *Migrator) ApplyAll(ctx context.Context) (int, error) {
	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading applied migrations: %w", err)
	}

	names, err := m.migrationNames()
	if err != nil {
		return 0, fmt.Errorf("listing migrations: %w", err)
	}

	count := 0
	for _, name := range names {
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return count, err
		}
		checksum := fmt.Sprintf("%x", sha256.Sum256(content))

		if stored, ok := applied[name]; ok {
			if stored != checksum {
				return count, fmt.Errorf("migration %s has been modified (expected checksum %s, got %s)",
					name, stored, checksum)
			}
			continue
		}

		if err := m.apply(ctx, name, string(content), checksum); err != nil {
			return count, fmt.Errorf("applying %s: %w", name, err)
		}
		count++
		m.logger.Info("applied migration", "file", name, "checksum", checksum[:8])
	}
	return count, nil
}

func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

func (m *Migrator) migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Migrator) apply(ctx context.Context, name, sql, checksum string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			m.logger.Warn("rollback failed", "file", name, "err", err)
		}
	}()

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("executing migration SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		name, checksum); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit(ctx)
}
