package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gasto/internal/core"
	"gasto/internal/queue"
	"gasto/internal/storage"
	"gasto/internal/turso"
	"gasto/internal/turso/tursotest"
)

func openMigrated(t *testing.T, name string) *storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := storage.NewMigrator(store)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	require.NoError(t, err)
	return store
}

// stepClock returns start on every call until advanced.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	local      *storage.Store
	queue      *queue.Queue
	clock      *stepClock
	categories *CategoryRepository
	expenses   *EntryRepository
	incomes    *EntryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local := openMigrated(t, "local.db")
	clock := newStepClock()
	q := queue.New(local, queue.WithClock(clock.Now))

	expenses, err := NewEntryRepository(core.KindExpense, local, q, WithClock(clock.Now))
	require.NoError(t, err)
	incomes, err := NewEntryRepository(core.KindIncome, local, q, WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{
		local:      local,
		queue:      q,
		clock:      clock,
		categories: NewCategoryRepository(local, q, WithClock(clock.Now)),
		expenses:   expenses,
		incomes:    incomes,
	}
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := f.queue.Count(context.Background())
	require.NoError(t, err)
	return n
}

func newRemote(t *testing.T) (*tursotest.Server, *turso.Client) {
	t.Helper()
	srv := tursotest.New(t)
	c, err := turso.New(turso.Config{URL: srv.URL, AuthToken: tursotest.Token, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return srv, c
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func expenseInput(value, category, date, desc string) core.EntryInput {
	return core.EntryInput{
		Value:       amount(value),
		CategoryID:  category,
		Date:        date,
		Description: desc,
	}
}
