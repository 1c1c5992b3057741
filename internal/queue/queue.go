// Package queue is the durable, ordered log of local mutations awaiting
// replay against the remote database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gasto/internal/core"
	"gasto/internal/storage"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

const (
	TableCategories = "categories"
	TableExpenses   = "expenses"
	TableIncomes    = "incomes"
)

func (op Operation) IsValid() bool {
	return op == OpInsert || op == OpUpdate || op == OpDelete
}

// ValidTable reports whether table is one the queue may reference.
func ValidTable(table string) bool {
	switch table {
	case TableCategories, TableExpenses, TableIncomes:
		return true
	}
	return false
}

// Item is one queued mutation. Data is the JSON snapshot taken at enqueue
// time: the full row for INSERT/UPDATE, {"id": ...} for DELETE.
type Item struct {
	ID        int64           `json:"id"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notifier is told about every successful append.
type Notifier interface {
	QueueChanged(ctx context.Context, item Item) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, item Item) error

func (f NotifierFunc) QueueChanged(ctx context.Context, item Item) error {
	return f(ctx, item)
}

type Queue struct {
	exec     storage.Executor
	now      core.Clock
	notifier Notifier
}

type Option func(*Queue)

func WithClock(c core.Clock) Option {
	return func(q *Queue) { q.now = c }
}

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func New(exec storage.Executor, opts ...Option) *Queue {
	q := &Queue{exec: exec, now: core.SystemClock}
	for _, o := range opts {
		o(q)
	}
	return q
}

// SetNotifier replaces the notifier after construction; nil disables it.
func (q *Queue) SetNotifier(n Notifier) {
	q.notifier = n
}

// Append records a mutation. The notifier runs after the row is durable and
// its failure is only logged.
func (q *Queue) Append(ctx context.Context, table, recordID string, op Operation, data any) (int64, error) {
	if !ValidTable(table) {
		return 0, fmt.Errorf("append sync item: unknown table %q", table)
	}
	if !op.IsValid() {
		return 0, fmt.Errorf("append sync item: unknown operation %q", op)
	}
	if strings.TrimSpace(recordID) == "" {
		return 0, fmt.Errorf("append sync item: empty record id")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encode sync payload: %w", err)
	}

	createdAt := q.now()
	id, err := q.exec.Insert(ctx,
		"INSERT INTO sync_queue (table_name, record_id, operation, data, created_at) VALUES (?, ?, ?, ?, ?)",
		table, recordID, string(op), string(payload), core.FormatTimestamp(createdAt))
	if err != nil {
		return 0, fmt.Errorf("append sync item: %w", err)
	}

	slog.DebugContext(ctx, "Sync item queued",
		"queue_id", id,
		"table", table,
		"record_id", recordID,
		"operation", op)

	if q.notifier != nil {
		item := Item{ID: id, TableName: table, RecordID: recordID, Operation: op, Data: payload, CreatedAt: createdAt}
		if err := q.notifier.QueueChanged(ctx, item); err != nil {
			slog.WarnContext(ctx, "Failed to notify queue change", "queue_id", id, "error", err)
		}
	}

	return id, nil
}

// PeekBatch returns up to limit items in replay order without removing them.
func (q *Queue) PeekBatch(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.exec.Query(ctx,
		"SELECT id, table_name, record_id, operation, data, created_at FROM sync_queue ORDER BY id ASC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("peek sync queue: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		item, err := decodeItem(r)
		if err != nil {
			return nil, fmt.Errorf("peek sync queue: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(r storage.Row) (Item, error) {
	var (
		it  Item
		err error
	)
	if it.ID, err = r.Int64("id"); err != nil {
		return it, err
	}
	if it.TableName, err = r.String("table_name"); err != nil {
		return it, err
	}
	if it.RecordID, err = r.String("record_id"); err != nil {
		return it, err
	}
	op, err := r.String("operation")
	if err != nil {
		return it, err
	}
	it.Operation = Operation(op)
	data, err := r.String("data")
	if err != nil {
		return it, err
	}
	it.Data = json.RawMessage(data)
	if it.CreatedAt, err = r.Time("created_at"); err != nil {
		return it, err
	}
	return it, nil
}

func (q *Queue) Remove(ctx context.Context, id int64) error {
	if _, err := q.exec.Update(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove sync item %d: %w", id, err)
	}
	return nil
}

// RemoveBatch deletes the given items in one transaction.
func (q *Queue) RemoveBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmts := make([]storage.Statement, len(ids))
	for i, id := range ids {
		stmts[i] = storage.Statement{SQL: "DELETE FROM sync_queue WHERE id = ?", Args: []any{id}}
	}
	if _, err := q.exec.Transaction(ctx, stmts); err != nil {
		return fmt.Errorf("remove sync batch: %w", err)
	}
	return nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	rows, err := q.exec.Query(ctx, "SELECT COUNT(*) AS n FROM sync_queue")
	if err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := rows[0].Int64("n")
	if err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return int(n), nil
}
