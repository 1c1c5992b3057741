package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createLedger = `CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// Migrator applies the embedded migrations through any Executor, so the same
// ledger works against the local file and, in remote-only mode, against the
// remote database. Each migration and its ledger row commit together.
type Migrator struct {
	exec Executor
	src  source.Driver
}

// NewMigrator uses the embedded migrations.
func NewMigrator(exec Executor) (*Migrator, error) {
	return NewMigratorFS(exec, migrationsFS, "migrations")
}

// NewMigratorFS reads NNNN_name.up.sql files from dir of fsys.
func NewMigratorFS(exec Executor, fsys fs.FS, dir string) (*Migrator, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}
	return &Migrator{exec: exec, src: src}, nil
}

func (m *Migrator) Close() error {
	return m.src.Close()
}

// Version returns the highest applied version, 0 when none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if _, err := m.exec.Update(ctx, createLedger); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}
	rows, err := m.exec.Query(ctx, "SELECT COALESCE(MAX(version), 0) AS version FROM migrations")
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, err := rows[0].Int64("version")
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return int(v), nil
}

// Up applies every pending migration in ascending order, one transaction per
// version. It stops at the first failure; the ledger then names the last
// version that fully applied. Returns the number of migrations applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	version, err := m.src.First()
	for err == nil {
		if int(version) > current {
			if err := m.apply(ctx, version); err != nil {
				return applied, err
			}
			applied++
		}
		version, err = m.src.Next(version)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return applied, fmt.Errorf("list migrations: %w", err)
	}

	if applied > 0 {
		slog.InfoContext(ctx, "Migrations applied", "count", applied, "from_version", current)
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, version uint) error {
	r, name, err := m.src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	body, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}

	stmts := SplitStatements(string(body))
	stmts = append(stmts, Statement{
		SQL:  "INSERT INTO migrations (version) VALUES (?)",
		Args: []any{int64(version)},
	})

	if _, err := m.exec.Transaction(ctx, stmts); err != nil {
		slog.ErrorContext(ctx, "Migration failed", "version", version, "name", name, "error", err)
		return fmt.Errorf("apply migration %d (%s): %w", version, name, err)
	}

	slog.InfoContext(ctx, "Migration applied", "version", version, "name", name)
	return nil
}

// SplitStatements splits a migration script on semicolons, dropping "--"
// comment lines. Statements must not contain semicolons inside literals.
func SplitStatements(script string) []Statement {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []Statement
	for _, part := range strings.Split(b.String(), ";") {
		if sql := strings.TrimSpace(part); sql != "" {
			stmts = append(stmts, Statement{SQL: sql})
		}
	}
	return stmts
}
