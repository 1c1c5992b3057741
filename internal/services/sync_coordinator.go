package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gasto/internal/connectivity"
	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/queue"
	"gasto/internal/storage"
)

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
)

var (
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrOffline           = errors.New("offline")
	ErrRemoteUnreachable = errors.New("remote database unreachable")
	ErrRemoteDisabled    = errors.New("remote database not configured")
)

// Remote is the replay target.
type Remote interface {
	storage.Executor
	Ping(ctx context.Context) error
}

// SyncCoordinatorConfig holds configuration for the sync coordinator
type SyncCoordinatorConfig struct {
	// BatchSize is the max number of queue items replayed per remote call (default: 50)
	BatchSize int

	// MaxBatchesPerCycle bounds how many full batches one Sync drains (default: 20)
	MaxBatchesPerCycle int

	// Interval is the periodic retry tick used by Start (default: 1m)
	Interval time.Duration

	// RemoteTimeout bounds each remote call (default: 15s)
	RemoteTimeout time.Duration
}

func DefaultSyncCoordinatorConfig() SyncCoordinatorConfig {
	return SyncCoordinatorConfig{
		BatchSize:          50,
		MaxBatchesPerCycle: 20,
		Interval:           time.Minute,
		RemoteTimeout:      15 * time.Second,
	}
}

func (c SyncCoordinatorConfig) withDefaults() SyncCoordinatorConfig {
	d := DefaultSyncCoordinatorConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBatchesPerCycle <= 0 {
		c.MaxBatchesPerCycle = d.MaxBatchesPerCycle
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	return c
}

// SyncReport summarizes one Sync call.
type SyncReport struct {
	Batches   int `json:"batches"`
	Replayed  int `json:"replayed"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// SyncStatus is a point-in-time view of the coordinator.
type SyncStatus struct {
	State      SyncState  `json:"state"`
	Online     bool       `json:"online"`
	Pending    int        `json:"pending"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// SyncCoordinator replays the local sync queue against the remote database.
// At most one cycle runs at a time.
type SyncCoordinator struct {
	local  storage.Executor
	queue  *queue.Queue
	remote Remote
	conn   connectivity.Subscribable
	config SyncCoordinatorConfig

	mu         sync.Mutex
	state      SyncState
	lastSyncAt time.Time
	lastErr    error

	// Lifecycle management
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	trigger     chan struct{}
	unsubscribe func()
}

// NewSyncCoordinator creates a coordinator. remote may be nil, in which case
// Sync reports ErrRemoteDisabled. conn may be nil to skip the online check.
func NewSyncCoordinator(
	local storage.Executor,
	q *queue.Queue,
	remote Remote,
	conn connectivity.Subscribable,
	config SyncCoordinatorConfig,
) *SyncCoordinator {
	return &SyncCoordinator{
		local:   local,
		queue:   q,
		remote:  remote,
		conn:    conn,
		config:  config.withDefaults(),
		state:   SyncIdle,
		trigger: make(chan struct{}, 1),
	}
}

func (c *SyncCoordinator) Config() SyncCoordinatorConfig {
	return c.config
}

func (c *SyncCoordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == SyncSyncing {
		return false
	}
	c.state = SyncSyncing
	return true
}

func (c *SyncCoordinator) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = SyncIdle
	c.lastErr = err
	if err == nil {
		c.lastSyncAt = time.Now().UTC()
	}
}

// Sync runs one cycle: it drains full batches until the queue is empty, a
// batch fails or MaxBatchesPerCycle is reached. On a failed batch nothing of
// that batch is removed from the queue.
func (c *SyncCoordinator) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	if c.remote == nil {
		return report, ErrRemoteDisabled
	}
	if !c.begin() {
		return report, ErrSyncInProgress
	}

	err := c.run(ctx, &report)
	c.finish(err)

	if n, cerr := c.queue.Count(ctx); cerr == nil {
		report.Remaining = n
	}

	sl := applog.NewStructuredLogger(applog.FromContext(ctx).WithComponent(applog.ComponentSync))
	if err != nil {
		if !errors.Is(err, ErrOffline) {
			sl.LogSyncCompleted(ctx, report.Replayed, report.Dropped, report.Remaining, err)
		}
		return report, err
	}

	if report.Replayed > 0 || report.Dropped > 0 {
		sl.LogSyncCompleted(ctx, report.Replayed, report.Dropped, report.Remaining, nil)
	}
	return report, nil
}

func (c *SyncCoordinator) run(ctx context.Context, report *SyncReport) error {
	if c.conn != nil && !c.conn.Online() {
		return ErrOffline
	}

	pctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
	err := c.remote.Ping(pctx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
	}

	for report.Batches < c.config.MaxBatchesPerCycle {
		items, err := c.queue.PeekBatch(ctx, c.config.BatchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		if err := c.replay(ctx, items, report); err != nil {
			return err
		}
		report.Batches++

		if len(items) < c.config.BatchSize {
			return nil
		}
	}
	return nil
}

type replayItem struct {
	item queue.Item
	stmt storage.Statement
	// set for entry upserts: the local row is marked synced if it still
	// carries this updated_at
	updatedAt string
}

func (c *SyncCoordinator) replay(ctx context.Context, items []queue.Item, report *SyncReport) error {
	var (
		batch   []replayItem
		dropped []int64
	)
	for _, it := range items {
		ri, err := translate(it)
		if err != nil {
			slog.ErrorContext(ctx, "Dropping unreplayable sync item",
				"queue_id", it.ID,
				"table", it.TableName,
				"record_id", it.RecordID,
				"operation", it.Operation,
				"error", err)
			dropped = append(dropped, it.ID)
			continue
		}
		batch = append(batch, ri)
	}

	if len(dropped) > 0 {
		if err := c.queue.RemoveBatch(ctx, dropped); err != nil {
			return err
		}
		report.Dropped += len(dropped)
	}
	if len(batch) == 0 {
		return nil
	}

	stmts := make([]storage.Statement, len(batch))
	for i, ri := range batch {
		stmts[i] = ri.stmt
	}

	rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
	_, err := c.remote.Transaction(rctx, stmts)
	cancel()
	if err != nil {
		return fmt.Errorf("replay sync batch: %w", err)
	}

	ids := make([]int64, len(batch))
	for i, ri := range batch {
		ids[i] = ri.item.ID
	}
	if err := c.queue.RemoveBatch(ctx, ids); err != nil {
		return err
	}
	report.Replayed += len(batch)

	c.markSynced(ctx, batch)
	return nil
}

// markSynced flags replayed entry rows as synced. A row edited again after
// it was queued keeps synced=0 because its updated_at no longer matches.
func (c *SyncCoordinator) markSynced(ctx context.Context, batch []replayItem) {
	var stmts []storage.Statement
	for _, ri := range batch {
		if ri.updatedAt == "" {
			continue
		}
		stmts = append(stmts, storage.Statement{
			SQL:  "UPDATE " + ri.item.TableName + " SET synced = 1 WHERE id = ? AND updated_at = ?",
			Args: []any{ri.item.RecordID, ri.updatedAt},
		})
	}
	if len(stmts) == 0 {
		return
	}
	if _, err := c.local.Transaction(ctx, stmts); err != nil {
		slog.WarnContext(ctx, "Failed to mark entries as synced", "count", len(stmts), "error", err)
	}
}

// translate turns a queue item into its idempotent remote statement.
func translate(it queue.Item) (replayItem, error) {
	ri := replayItem{item: it}

	if !queue.ValidTable(it.TableName) {
		return ri, fmt.Errorf("unknown table %q", it.TableName)
	}

	switch it.Operation {
	case queue.OpDelete:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(it.Data, &payload); err != nil {
			return ri, fmt.Errorf("decode delete payload: %w", err)
		}
		id := payload.ID
		if id == "" {
			id = it.RecordID
		}
		if strings.TrimSpace(id) == "" {
			return ri, errors.New("delete payload has no id")
		}
		ri.stmt = storage.Statement{SQL: "DELETE FROM " + it.TableName + " WHERE id = ?", Args: []any{id}}
		return ri, nil

	case queue.OpInsert, queue.OpUpdate:
		if it.TableName == queue.TableCategories {
			var cat core.Category
			if err := json.Unmarshal(it.Data, &cat); err != nil {
				return ri, fmt.Errorf("decode category payload: %w", err)
			}
			if cat.ID == "" {
				return ri, errors.New("category payload has no id")
			}
			ri.stmt = storage.Statement{
				SQL: "INSERT INTO categories (id, name, icon, color, is_default, created_at) VALUES (?, ?, ?, ?, ?, ?) " +
					"ON CONFLICT(id) DO UPDATE SET name = excluded.name, icon = excluded.icon, color = excluded.color, is_default = excluded.is_default",
				Args: []any{cat.ID, cat.Name, cat.Icon, cat.Color, cat.IsDefault, timestampOrNow(cat.CreatedAt)},
			}
			return ri, nil
		}

		var e core.Entry
		if err := json.Unmarshal(it.Data, &e); err != nil {
			return ri, fmt.Errorf("decode entry payload: %w", err)
		}
		if e.ID == "" {
			return ri, errors.New("entry payload has no id")
		}
		ri.updatedAt = timestampOrNow(e.UpdatedAt)
		ri.stmt = storage.Statement{
			SQL: "INSERT OR REPLACE INTO " + it.TableName +
				" (id, value, category_id, date, description, created_at, updated_at, synced) VALUES (?, ?, ?, ?, ?, ?, ?, 1)",
			Args: []any{e.ID, e.Value, e.CategoryID, e.Date, e.Description, timestampOrNow(e.CreatedAt), ri.updatedAt},
		}
		return ri, nil
	}

	return ri, fmt.Errorf("unknown operation %q", it.Operation)
}

func timestampOrNow(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return core.FormatTimestamp(t)
}

// Status reports state, connectivity and the pending queue length.
func (c *SyncCoordinator) Status(ctx context.Context) (SyncStatus, error) {
	c.mu.Lock()
	st := SyncStatus{State: c.state}
	if !c.lastSyncAt.IsZero() {
		t := c.lastSyncAt
		st.LastSyncAt = &t
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	st.Online = c.remote != nil && (c.conn == nil || c.conn.Online())

	// Remote-only mode has no queue
	if c.queue == nil {
		return st, nil
	}
	n, err := c.queue.Count(ctx)
	if err != nil {
		return st, err
	}
	st.Pending = n
	return st, nil
}

// QueueChanged implements queue.Notifier: a new local change wakes the
// background loop when it is running.
func (c *SyncCoordinator) QueueChanged(ctx context.Context, item queue.Item) error {
	c.Trigger()
	return nil
}

// Trigger asks the background loop for a cycle without blocking.
func (c *SyncCoordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Start runs the background loop: a cycle on every offline to online
// transition, on Trigger and on every Interval tick. Returns an error if
// already running.
func (c *SyncCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("sync coordinator is already running")
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	c.running = true
	c.stopCh, c.doneCh = stopCh, doneCh
	if c.conn != nil {
		c.unsubscribe = c.conn.Subscribe(func(online bool) {
			if online {
				c.Trigger()
			}
		})
	}
	c.mu.Unlock()

	go c.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Sync coordinator started",
		"interval", c.config.Interval,
		"batch_size", c.config.BatchSize)

	return nil
}

// Stop ends the loop and waits for an in-flight cycle until ctx expires.
// The coordinator counts as stopped as soon as Stop is called, so a timed
// out Stop can be followed by another Stop or a fresh Start.
func (c *SyncCoordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stopCh, doneCh, unsubscribe := c.stopCh, c.doneCh, c.unsubscribe
	c.stopCh, c.doneCh, c.unsubscribe = nil, nil, nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync coordinator stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync coordinator stop timed out")
		return ctx.Err()
	}
}

func (c *SyncCoordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *SyncCoordinator) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	// Sync immediately on startup when there is something to send
	if c.queue != nil {
		if n, err := c.queue.Count(ctx); err == nil && n > 0 {
			c.syncQuietly(ctx)
		}
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncQuietly(ctx)
		case <-c.trigger:
			c.syncQuietly(ctx)
		}
	}
}

func (c *SyncCoordinator) syncQuietly(ctx context.Context) {
	_, err := c.Sync(ctx)
	switch {
	case err == nil, errors.Is(err, ErrOffline), errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrRemoteDisabled):
	default:
		slog.DebugContext(ctx, "Background sync did not complete", "error", err)
	}
}
