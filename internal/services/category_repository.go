package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gasto/internal/core"
	"gasto/internal/queue"
	"gasto/internal/storage"
)

const categoryColumns = "id, name, icon, color, is_default, created_at"

// CategoryRepository owns the categories table and keeps an in-memory
// snapshot of it for lookups.
type CategoryRepository struct {
	exec  storage.Executor
	queue *queue.Queue
	now   core.Clock

	mu       sync.RWMutex
	snapshot []core.Category
}

// NewCategoryRepository returns a repository over exec. q may be nil when
// writes go straight to the remote database.
func NewCategoryRepository(exec storage.Executor, q *queue.Queue, opts ...RepositoryOption) *CategoryRepository {
	o := buildOptions(opts)
	return &CategoryRepository{exec: exec, queue: q, now: o.now}
}

// FetchAll reloads every category, defaults first, and replaces the snapshot.
func (r *CategoryRepository) FetchAll(ctx context.Context) ([]core.Category, error) {
	rows, err := r.exec.Query(ctx,
		"SELECT "+categoryColumns+" FROM categories ORDER BY is_default DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}

	out := make([]core.Category, 0, len(rows))
	for _, row := range rows {
		c, err := storage.DecodeCategory(row)
		if err != nil {
			return nil, fmt.Errorf("fetch categories: %w", err)
		}
		out = append(out, c)
	}

	r.mu.Lock()
	r.snapshot = out
	r.mu.Unlock()

	return append([]core.Category(nil), out...), nil
}

// Snapshot returns the categories from the last FetchAll.
func (r *CategoryRepository) Snapshot() []core.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Category(nil), r.snapshot...)
}

// Get looks id up in the snapshot.
func (r *CategoryRepository) Get(id string) (core.Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.snapshot {
		if c.ID == id {
			return c, true
		}
	}
	return core.Category{}, false
}

// Load reads one category from storage, bypassing the snapshot.
func (r *CategoryRepository) Load(ctx context.Context, id string) (core.Category, error) {
	rows, err := r.exec.Query(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
	if err != nil {
		return core.Category{}, fmt.Errorf("load category: %w", err)
	}
	if len(rows) == 0 {
		return core.Category{}, core.ErrNotFound
	}
	c, err := storage.DecodeCategory(rows[0])
	if err != nil {
		return core.Category{}, fmt.Errorf("load category: %w", err)
	}
	return c, nil
}

func (r *CategoryRepository) Add(ctx context.Context, in core.CategoryInput) (Mutation, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Mutation{}, err
	}

	id, err := newID("cat")
	if err != nil {
		return Mutation{}, err
	}
	c := core.Category{
		ID:        id,
		Name:      in.Name,
		Icon:      in.Icon,
		Color:     in.Color,
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}

	if _, err := r.exec.Insert(ctx,
		"INSERT INTO categories ("+categoryColumns+") VALUES (?, ?, ?, ?, 0, ?)",
		c.ID, c.Name, c.Icon, c.Color, core.FormatTimestamp(c.CreatedAt)); err != nil {
		return Mutation{}, fmt.Errorf("insert category: %w", err)
	}

	slog.InfoContext(ctx, "Category created", "category_id", c.ID, "name", c.Name)

	m := Mutation{ID: c.ID}
	enqueue(ctx, r.queue, &m, queue.TableCategories, queue.OpInsert, c)
	r.refresh(ctx)
	return m, nil
}

// Update applies patch to a user category. Default categories are
// immutable.
func (r *CategoryRepository) Update(ctx context.Context, id string, patch core.CategoryPatch) (Mutation, error) {
	if patch.IsEmpty() {
		return Mutation{}, core.ErrEmptyPatch
	}

	cur, err := r.Load(ctx, id)
	if err != nil {
		return Mutation{}, err
	}
	if cur.IsDefault {
		return Mutation{}, core.ErrDefaultCategory
	}

	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return Mutation{}, err
	}

	n, err := r.exec.Update(ctx,
		"UPDATE categories SET name = ?, icon = ?, color = ? WHERE id = ? AND is_default = 0",
		next.Name, next.Icon, next.Color, id)
	if err != nil {
		return Mutation{}, fmt.Errorf("update category: %w", err)
	}
	if n == 0 {
		return Mutation{}, core.ErrNotFound
	}

	// Queue the row as stored, not as computed.
	stored, err := r.Load(ctx, id)
	if err != nil {
		return Mutation{}, err
	}

	slog.InfoContext(ctx, "Category updated", "category_id", id)

	m := Mutation{ID: id}
	enqueue(ctx, r.queue, &m, queue.TableCategories, queue.OpUpdate, stored)
	r.refresh(ctx)
	return m, nil
}

// Delete removes a user category. The default flag is read from storage so
// a stale snapshot cannot let a default category through.
func (r *CategoryRepository) Delete(ctx context.Context, id string) (Mutation, error) {
	cur, err := r.Load(ctx, id)
	if err != nil {
		return Mutation{}, err
	}
	if cur.IsDefault {
		return Mutation{}, core.ErrDefaultCategory
	}

	rows, err := r.exec.Query(ctx,
		"SELECT (SELECT COUNT(*) FROM expenses WHERE category_id = ?) + (SELECT COUNT(*) FROM incomes WHERE category_id = ?) AS n",
		id, id)
	if err != nil {
		return Mutation{}, fmt.Errorf("check category usage: %w", err)
	}
	if len(rows) > 0 {
		if used, _ := rows[0].Int64("n"); used > 0 {
			return Mutation{}, core.ErrCategoryInUse
		}
	}

	n, err := r.exec.Update(ctx, "DELETE FROM categories WHERE id = ? AND is_default = 0", id)
	if err != nil {
		return Mutation{}, fmt.Errorf("delete category: %w", err)
	}
	if n == 0 {
		return Mutation{}, core.ErrNotFound
	}

	slog.InfoContext(ctx, "Category deleted", "category_id", id)

	m := Mutation{ID: id}
	enqueue(ctx, r.queue, &m, queue.TableCategories, queue.OpDelete, map[string]string{"id": id})
	r.refresh(ctx)
	return m, nil
}

func (r *CategoryRepository) refresh(ctx context.Context) {
	if _, err := r.FetchAll(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to refresh categories", "error", err)
	}
}
