package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasto/internal/connectivity"
	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/storage"
	"gasto/internal/turso"
)

func TestDefaultSyncCoordinatorConfig(t *testing.T) {
	cfg := DefaultSyncCoordinatorConfig()
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 20, cfg.MaxBatchesPerCycle)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout)

	c := NewSyncCoordinator(nil, nil, nil, nil, SyncCoordinatorConfig{BatchSize: 5})
	assert.Equal(t, 5, c.Config().BatchSize)
	assert.Equal(t, 20, c.Config().MaxBatchesPerCycle, "zero values fall back to defaults")
}

func TestSyncReplaysQueueToRemote(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	cat, err := f.categories.Add(ctx, core.CategoryInput{Name: "Pets", Icon: "paw", Color: "#abcdef"})
	require.NoError(t, err)
	exp, err := f.expenses.Add(ctx, expenseInput("12.34", cat.ID, "2025-03-14", "Food"))
	require.NoError(t, err)
	_, err = f.expenses.Update(ctx, exp.ID, core.EntryPatch{Description: ptr("Dog food")})
	require.NoError(t, err)
	inc, err := f.incomes.Add(ctx, expenseInput("3000", "cat-other", "2025-03-01", "Salary"))
	require.NoError(t, err)
	gone, err := f.expenses.Add(ctx, expenseInput("1", "cat-food", "2025-03-02", "Gum"))
	require.NoError(t, err)
	_, err = f.expenses.Delete(ctx, gone.ID)
	require.NoError(t, err)
	require.Equal(t, 6, f.pending(t))

	c := NewSyncCoordinator(f.local, f.queue, remote, connectivity.NewStatic(true), DefaultSyncCoordinatorConfig())
	report, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Replayed)
	assert.Equal(t, 1, report.Batches)
	assert.Zero(t, report.Remaining)
	assert.Zero(t, f.pending(t))

	assert.Equal(t, int64(1), srv.Count(t, "SELECT COUNT(*) FROM categories WHERE id = ? AND name = 'Pets'", cat.ID))
	assert.Equal(t, int64(1), srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ? AND description = 'Dog food' AND synced = 1", exp.ID))
	assert.Equal(t, int64(1), srv.Count(t, "SELECT COUNT(*) FROM incomes WHERE id = ?", inc.ID))
	assert.Equal(t, int64(0), srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ?", gone.ID))

	e, err := f.expenses.Load(ctx, exp.ID)
	require.NoError(t, err)
	assert.True(t, e.Synced)
	i, err := f.incomes.Load(ctx, inc.ID)
	require.NoError(t, err)
	assert.True(t, i.Synced)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncIdle, st.State)
	assert.True(t, st.Online)
	assert.Zero(t, st.Pending)
	assert.NotNil(t, st.LastSyncAt)
	assert.Empty(t, st.LastError)
}

func TestSyncIsIdempotentOnReplay(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	m, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)
	items, err := f.queue.PeekBatch(ctx, 1)
	require.NoError(t, err)

	c := NewSyncCoordinator(f.local, f.queue, remote, nil, DefaultSyncCoordinatorConfig())
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	// Replaying the same snapshot again leaves one row.
	_, err = f.queue.Append(ctx, items[0].TableName, m.ID, items[0].Operation, items[0].Data)
	require.NoError(t, err)
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ?", m.ID))
}

type failingRemote struct {
	Remote
	err error
}

func (r failingRemote) Transaction(context.Context, []storage.Statement) ([]storage.Row, error) {
	return nil, r.err
}

func TestSyncFailureKeepsQueue(t *testing.T) {
	f := newFixture(t)
	_, remote := newRemote(t)
	ctx := context.Background()

	m, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)

	boom := &turso.RemoteError{Status: 500, Message: "boom"}
	c := NewSyncCoordinator(f.local, f.queue, failingRemote{Remote: remote, err: boom}, nil, DefaultSyncCoordinatorConfig())

	_, err = c.Sync(ctx)
	require.Error(t, err)
	var re *turso.RemoteError
	assert.True(t, errors.As(err, &re))

	assert.Equal(t, 1, f.pending(t))
	e, err := f.expenses.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, e.Synced)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "boom")
	assert.Equal(t, SyncIdle, st.State, "state resets after a failed cycle")
}

func TestSyncGuards(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	_, err := NewSyncCoordinator(f.local, f.queue, nil, nil, SyncCoordinatorConfig{}).Sync(ctx)
	assert.ErrorIs(t, err, ErrRemoteDisabled)

	offline := connectivity.NewStatic(false)
	_, err = NewSyncCoordinator(f.local, f.queue, remote, offline, SyncCoordinatorConfig{}).Sync(ctx)
	assert.ErrorIs(t, err, ErrOffline)

	busy := NewSyncCoordinator(f.local, f.queue, remote, nil, SyncCoordinatorConfig{})
	require.True(t, busy.begin())
	_, err = busy.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	busy.finish(nil)

	srv.FailWith(503, "down")
	_, err = NewSyncCoordinator(f.local, f.queue, remote, nil, SyncCoordinatorConfig{}).Sync(ctx)
	assert.ErrorIs(t, err, ErrRemoteUnreachable)
}

func TestSyncDropsMalformedItems(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	_, err := f.local.Insert(ctx,
		"INSERT INTO sync_queue (table_name, record_id, operation, data) VALUES (?, ?, ?, ?)",
		"expenses", "exp_bad", "INSERT", "{not json")
	require.NoError(t, err)
	_, err = f.local.Insert(ctx,
		"INSERT INTO sync_queue (table_name, record_id, operation, data) VALUES (?, ?, ?, ?)",
		"users", "u_1", "DELETE", `{"id":"u_1"}`)
	require.NoError(t, err)
	m, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)

	c := NewSyncCoordinator(f.local, f.queue, remote, nil, DefaultSyncCoordinatorConfig())
	report, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, 1, report.Replayed)
	assert.Zero(t, f.pending(t))
	assert.Equal(t, int64(1), srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ?", m.ID))
}

func TestSyncDrainsMultipleBatches(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.expenses.Add(ctx, expenseInput("1", "cat-food", "2025-03-14", "Item"))
		require.NoError(t, err)
	}

	c := NewSyncCoordinator(f.local, f.queue, remote, nil, SyncCoordinatorConfig{BatchSize: 2})
	report, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 5, report.Replayed)
	assert.Equal(t, int64(5), srv.Count(t, "SELECT COUNT(*) FROM expenses"))

	for i := 0; i < 5; i++ {
		_, err := f.expenses.Add(ctx, expenseInput("1", "cat-food", "2025-03-15", "Item"))
		require.NoError(t, err)
	}
	bounded := NewSyncCoordinator(f.local, f.queue, remote, nil, SyncCoordinatorConfig{BatchSize: 2, MaxBatchesPerCycle: 1})
	report, err = bounded.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 3, report.Remaining)
}

func TestSyncLeavesReeditedRowUnsynced(t *testing.T) {
	f := newFixture(t)
	_, remote := newRemote(t)
	ctx := context.Background()

	m, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)
	_, err = f.expenses.Update(ctx, m.ID, core.EntryPatch{Description: ptr("Tea")})
	require.NoError(t, err)

	// Only the INSERT goes out; the row already carries a newer edit.
	c := NewSyncCoordinator(f.local, f.queue, remote, nil, SyncCoordinatorConfig{BatchSize: 1, MaxBatchesPerCycle: 1})
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	e, err := f.expenses.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, e.Synced)

	_, err = c.Sync(ctx)
	require.NoError(t, err)
	e, err = f.expenses.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, e.Synced)
}

func TestCoordinatorStartSyncsWhenOnline(t *testing.T) {
	f := newFixture(t)
	srv, remote := newRemote(t)
	ctx := context.Background()

	m, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)

	conn := connectivity.NewStatic(false)
	c := NewSyncCoordinator(f.local, f.queue, remote, conn, SyncCoordinatorConfig{Interval: time.Hour})
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	assert.Error(t, c.Start(ctx), "second start fails")

	assert.Equal(t, 1, f.pending(t), "offline: nothing sent")

	conn.Set(true)
	require.Eventually(t, func() bool {
		return srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ?", m.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A new change wakes the loop through the queue notifier.
	f.queue.SetNotifier(c)
	m2, err := f.expenses.Add(ctx, expenseInput("6", "cat-food", "2025-03-14", "Cake"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.Count(t, "SELECT COUNT(*) FROM expenses WHERE id = ?", m2.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	assert.False(t, c.IsRunning())
	assert.NoError(t, c.Stop(stopCtx), "stop when not running")
}

// blockingRemote holds every transaction until release is closed.
type blockingRemote struct {
	Remote
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRemote) Transaction(ctx context.Context, stmts []storage.Statement) ([]storage.Row, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Remote.Transaction(ctx, stmts)
}

func TestStopAfterTimeoutCanBeRepeated(t *testing.T) {
	f := newFixture(t)
	_, remote := newRemote(t)
	ctx := context.Background()

	_, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)

	blocking := &blockingRemote{Remote: remote, entered: make(chan struct{}, 1), release: make(chan struct{})}
	conn := connectivity.NewStatic(true)
	c := NewSyncCoordinator(f.local, f.queue, blocking, conn, SyncCoordinatorConfig{Interval: time.Hour})
	require.NoError(t, c.Start(ctx))

	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle never reached the remote")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Stop(stopCtx), context.DeadlineExceeded)
	assert.False(t, c.IsRunning())

	require.NotPanics(t, func() {
		assert.NoError(t, c.Stop(stopCtx), "already stopped")
	})

	close(blocking.release)
	require.Eventually(t, func() bool { return f.pending(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())
	stopCtx2, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()
	require.NoError(t, c.Stop(stopCtx2))
	assert.False(t, c.IsRunning())
}

func TestSyncLogsCompletedCycle(t *testing.T) {
	f := newFixture(t)
	_, remote := newRemote(t)

	var buf bytes.Buffer
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentApp, Output: &buf})
	ctx := applog.NewContext(context.Background(), logger)

	_, err := f.expenses.Add(ctx, expenseInput("5", "cat-food", "2025-03-14", "Coffee"))
	require.NoError(t, err)
	_, err = f.expenses.Add(ctx, expenseInput("6", "cat-food", "2025-03-14", "Cake"))
	require.NoError(t, err)

	c := NewSyncCoordinator(f.local, f.queue, remote, nil, DefaultSyncCoordinatorConfig())
	_, err = c.Sync(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Sync cycle completed")
	assert.Contains(t, out, "component=sync")
	assert.Contains(t, out, "replayed=2")
	assert.Contains(t, out, "remaining=0")

	buf.Reset()
	_, err = f.expenses.Add(ctx, expenseInput("7", "cat-food", "2025-03-14", "Tea"))
	require.NoError(t, err)
	failing := NewSyncCoordinator(f.local, f.queue, failingRemote{Remote: remote, err: errors.New("boom")}, nil, DefaultSyncCoordinatorConfig())
	_, err = failing.Sync(ctx)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Sync cycle failed")
	assert.Contains(t, buf.String(), "error=")

	// Nothing to send: no cycle record.
	buf.Reset()
	_, err = c.Sync(ctx)
	require.NoError(t, err)
	_, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "Sync cycle completed"))
}
