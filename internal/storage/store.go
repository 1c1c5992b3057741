package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Statement is one parameterized SQL statement of a transaction.
type Statement struct {
	SQL  string
	Args []any
}

// Executor is the storage capability shared by the local store and the
// remote client. Repositories, the sync queue and the migration runner only
// depend on this interface, so either backend can serve them.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Insert(ctx context.Context, query string, args ...any) (int64, error)
	Update(ctx context.Context, query string, args ...any) (int64, error)
	// Transaction runs all statements atomically and returns the rows
	// produced by any of them, in order.
	Transaction(ctx context.Context, stmts []Statement) ([]Row, error)
}

// Store is the embedded SQLite executor.
type Store struct {
	db   *sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Open opens (creating if needed) the database at path. The pool is limited
// to one connection: SQLite has a single writer and the pragmas above are
// per connection.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	slog.InfoContext(ctx, "SQLite store opened", "path", path)

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStoreError("query", query, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, newStoreError("query", query, err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, newStoreError("insert", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, newStoreError("insert", query, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, newStoreError("update", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStoreError("update", query, err)
	}
	return n, nil
}

func (s *Store) Transaction(ctx context.Context, stmts []Statement) ([]Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, newStoreError("begin", "", err)
	}
	defer tx.Rollback()

	var out []Row
	for _, st := range stmts {
		if ReturnsRows(st.SQL) {
			rows, err := tx.QueryContext(ctx, st.SQL, st.Args...)
			if err != nil {
				return nil, newStoreError("transaction", st.SQL, err)
			}
			scanned, err := scanRows(rows)
			rows.Close()
			if err != nil {
				return nil, newStoreError("transaction", st.SQL, err)
			}
			out = append(out, scanned...)
			continue
		}
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return nil, newStoreError("transaction", st.SQL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, newStoreError("commit", "", err)
	}
	return out, nil
}

// ReturnsRows reports whether a statement produces a result set.
func ReturnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "VALUES"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return strings.Contains(q, " RETURNING ")
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
