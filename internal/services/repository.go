package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"gasto/internal/core"
	"gasto/internal/queue"
	"gasto/internal/storage"
)

// Mutation is the outcome of a successful Add, Update or Delete. The local
// write always succeeded; Queued and QueueErr report whether the change was
// also recorded for replay. A queue failure never undoes the write.
type Mutation struct {
	ID       string
	Queued   bool
	QueueErr error
}

type repoOptions struct {
	now core.Clock
}

// RepositoryOption configures a repository.
type RepositoryOption func(*repoOptions)

// WithClock pins the time source used for created_at and updated_at.
func WithClock(c core.Clock) RepositoryOption {
	return func(o *repoOptions) { o.now = c }
}

func buildOptions(opts []RepositoryOption) repoOptions {
	o := repoOptions{now: core.SystemClock}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func newID(prefix string) (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + "_" + u.String(), nil
}

// enqueue appends to the sync queue when one is configured. Remote-only
// repositories have no queue and report Queued=false without error.
func enqueue(ctx context.Context, q *queue.Queue, m *Mutation, table string, op queue.Operation, data any) {
	if q == nil {
		return
	}
	if _, err := q.Append(ctx, table, m.ID, op, data); err != nil {
		slog.ErrorContext(ctx, "Failed to queue change for sync",
			"table", table,
			"record_id", m.ID,
			"operation", op,
			"error", err)
		m.QueueErr = err
		return
	}
	m.Queued = true
}

func categoryExists(ctx context.Context, exec storage.Executor, id string) (bool, error) {
	rows, err := exec.Query(ctx, "SELECT id FROM categories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return len(rows) > 0, nil
}
