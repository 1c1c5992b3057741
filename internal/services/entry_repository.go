package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gasto/internal/core"
	"gasto/internal/queue"
	"gasto/internal/storage"
)

const entryColumns = "id, value, category_id, date, description, created_at, updated_at, synced"

// EntryRepository serves either the expenses or the incomes table; the two
// differ only by Kind.
type EntryRepository struct {
	kind  core.Kind
	table string
	exec  storage.Executor
	queue *queue.Queue
	now   core.Clock

	mu       sync.RWMutex
	filter   core.EntryFilter
	snapshot []core.Entry
}

func NewEntryRepository(kind core.Kind, exec storage.Executor, q *queue.Queue, opts ...RepositoryOption) (*EntryRepository, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown entry kind %q", kind)
	}
	o := buildOptions(opts)
	return &EntryRepository{
		kind:  kind,
		table: kind.Table(),
		exec:  exec,
		queue: q,
		now:   o.now,
	}, nil
}

func (r *EntryRepository) Kind() core.Kind {
	return r.kind
}

// Filter returns the filter applied by refreshes.
func (r *EntryRepository) Filter() core.EntryFilter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter
}

// SetFilter stores filter and reloads the snapshot with it.
func (r *EntryRepository) SetFilter(ctx context.Context, filter core.EntryFilter) ([]core.Entry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
	return r.FetchAll(ctx, filter)
}

func (r *EntryRepository) ClearFilter(ctx context.Context) ([]core.Entry, error) {
	return r.SetFilter(ctx, core.EntryFilter{})
}

// FetchAll loads entries matching filter, newest first, and replaces the
// snapshot.
func (r *EntryRepository) FetchAll(ctx context.Context, filter core.EntryFilter) ([]core.Entry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query := "SELECT " + entryColumns + " FROM " + r.table + " WHERE 1=1"
	var args []any
	if filter.Month != "" {
		query += " AND date LIKE ?"
		args = append(args, filter.Month+"%")
	}
	if filter.CategoryID != "" {
		query += " AND category_id = ?"
		args = append(args, filter.CategoryID)
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := r.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.table, err)
	}

	out := make([]core.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := storage.DecodeEntry(row)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", r.table, err)
		}
		out = append(out, e)
	}

	r.mu.Lock()
	r.snapshot = out
	r.mu.Unlock()

	return append([]core.Entry(nil), out...), nil
}

func (r *EntryRepository) Snapshot() []core.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Entry(nil), r.snapshot...)
}

func (r *EntryRepository) Get(id string) (core.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.snapshot {
		if e.ID == id {
			return e, true
		}
	}
	return core.Entry{}, false
}

// Load reads one entry from storage, bypassing the snapshot.
func (r *EntryRepository) Load(ctx context.Context, id string) (core.Entry, error) {
	rows, err := r.exec.Query(ctx, "SELECT "+entryColumns+" FROM "+r.table+" WHERE id = ?", id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("load %s: %w", r.kind, err)
	}
	if len(rows) == 0 {
		return core.Entry{}, core.ErrNotFound
	}
	e, err := storage.DecodeEntry(rows[0])
	if err != nil {
		return core.Entry{}, fmt.Errorf("load %s: %w", r.kind, err)
	}
	return e, nil
}

func (r *EntryRepository) requireCategory(ctx context.Context, id string) error {
	ok, err := categoryExists(ctx, r.exec, id)
	if err != nil {
		return err
	}
	if !ok {
		return &core.ValidationError{Field: "category_id", Reason: "unknown category"}
	}
	return nil
}

func (r *EntryRepository) Add(ctx context.Context, in core.EntryInput) (Mutation, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Mutation{}, err
	}
	if err := r.requireCategory(ctx, in.CategoryID); err != nil {
		return Mutation{}, err
	}

	id, err := newID(r.kind.IDPrefix())
	if err != nil {
		return Mutation{}, err
	}
	now := core.NextTimestamp(time.Time{}, r.now())
	e := core.Entry{
		ID:          id,
		Value:       in.Value.Round(2),
		CategoryID:  in.CategoryID,
		Date:        in.Date,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := r.exec.Insert(ctx,
		"INSERT INTO "+r.table+" ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, 0)",
		e.ID, amountArg(e.Value), e.CategoryID, e.Date, e.Description,
		core.FormatTimestamp(e.CreatedAt), core.FormatTimestamp(e.UpdatedAt)); err != nil {
		return Mutation{}, fmt.Errorf("insert %s: %w", r.kind, err)
	}

	slog.InfoContext(ctx, "Entry created",
		"kind", r.kind,
		"id", e.ID,
		"value", e.Value.StringFixed(2),
		"date", e.Date)

	m := Mutation{ID: e.ID}
	enqueue(ctx, r.queue, &m, r.table, queue.OpInsert, e)
	r.refresh(ctx)
	return m, nil
}

// Update rewrites the patched fields, advances updated_at and clears the
// synced flag.
func (r *EntryRepository) Update(ctx context.Context, id string, patch core.EntryPatch) (Mutation, error) {
	if patch.IsEmpty() {
		return Mutation{}, core.ErrEmptyPatch
	}

	cur, err := r.Load(ctx, id)
	if err != nil {
		return Mutation{}, err
	}

	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return Mutation{}, err
	}
	if next.CategoryID != cur.CategoryID {
		if err := r.requireCategory(ctx, next.CategoryID); err != nil {
			return Mutation{}, err
		}
	}
	next.Value = next.Value.Round(2)
	next.UpdatedAt = core.NextTimestamp(cur.UpdatedAt, r.now())

	n, err := r.exec.Update(ctx,
		"UPDATE "+r.table+" SET value = ?, category_id = ?, date = ?, description = ?, updated_at = ?, synced = 0 WHERE id = ?",
		amountArg(next.Value), next.CategoryID, next.Date, next.Description,
		core.FormatTimestamp(next.UpdatedAt), id)
	if err != nil {
		return Mutation{}, fmt.Errorf("update %s: %w", r.kind, err)
	}
	if n == 0 {
		return Mutation{}, core.ErrNotFound
	}

	stored, err := r.Load(ctx, id)
	if err != nil {
		return Mutation{}, err
	}

	slog.InfoContext(ctx, "Entry updated", "kind", r.kind, "id", id)

	m := Mutation{ID: id}
	enqueue(ctx, r.queue, &m, r.table, queue.OpUpdate, stored)
	r.refresh(ctx)
	return m, nil
}

func (r *EntryRepository) Delete(ctx context.Context, id string) (Mutation, error) {
	n, err := r.exec.Update(ctx, "DELETE FROM "+r.table+" WHERE id = ?", id)
	if err != nil {
		return Mutation{}, fmt.Errorf("delete %s: %w", r.kind, err)
	}
	if n == 0 {
		return Mutation{}, core.ErrNotFound
	}

	slog.InfoContext(ctx, "Entry deleted", "kind", r.kind, "id", id)

	m := Mutation{ID: id}
	enqueue(ctx, r.queue, &m, r.table, queue.OpDelete, map[string]string{"id": id})
	r.refresh(ctx)
	return m, nil
}

func (r *EntryRepository) refresh(ctx context.Context) {
	if _, err := r.FetchAll(ctx, r.Filter()); err != nil {
		slog.WarnContext(ctx, "Failed to refresh entries", "kind", r.kind, "error", err)
	}
}

// amountArg binds a money value to the REAL value column.
func amountArg(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
