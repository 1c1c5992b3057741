package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gasto/internal/amqp"
	"gasto/internal/services"
	"gasto/internal/turso"
)

// Syncer runs one sync cycle and reports on the queue.
type Syncer interface {
	Sync(ctx context.Context) (services.SyncReport, error)
	Status(ctx context.Context) (services.SyncStatus, error)
}

// SyncWorker turns AMQP sync requests and periodic ticks into sync cycles.
type SyncWorker struct {
	syncer Syncer
}

func NewSyncWorker(syncer Syncer) *SyncWorker {
	return &SyncWorker{syncer: syncer}
}

// HandleSyncRequest runs a cycle for one message. Conditions that a later
// cycle resolves on its own (offline, remote down, a cycle already running)
// acknowledge the message; requeueing would only spin. Anything else is
// returned so the consumer requeues it.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	slog.DebugContext(ctx, "Processing sync request",
		"reason", msg.Reason,
		"table", msg.Table,
		"record_id", msg.RecordID,
		"timestamp", msg.Timestamp)

	report, err := w.syncer.Sync(ctx)
	if err != nil {
		if deferrable(err) {
			slog.InfoContext(ctx, "Sync request deferred", "reason", msg.Reason, "error", err)
			return nil
		}
		return err
	}

	if report.Replayed > 0 {
		slog.InfoContext(ctx, "Sync request processed",
			"reason", msg.Reason,
			"replayed", report.Replayed,
			"remaining", report.Remaining)
	}
	return nil
}

func deferrable(err error) bool {
	switch {
	case errors.Is(err, services.ErrOffline),
		errors.Is(err, services.ErrSyncInProgress),
		errors.Is(err, services.ErrRemoteUnreachable),
		errors.Is(err, services.ErrRemoteDisabled):
		return true
	}
	var re *turso.RemoteError
	return errors.As(err, &re)
}

// StartupSyncCheck replays whatever accumulated while the worker was down.
// This is useful to recover from missed AMQP messages or worker downtime
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	st, err := w.syncer.Status(ctx)
	if err != nil {
		return err
	}
	if st.Pending == 0 {
		slog.InfoContext(ctx, "No pending changes found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending changes on startup, syncing...", "count", st.Pending)

	report, err := w.syncer.Sync(ctx)
	if err != nil && !deferrable(err) {
		return err
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", st.Pending,
		"synced", report.Replayed,
		"remaining", report.Remaining,
		"error", err)
	return nil
}

// RunPeriodic syncs every interval until ctx ends. It is the backup path in
// case AMQP messages are lost.
func (w *SyncWorker) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.syncer.Sync(ctx); err != nil && !deferrable(err) {
				slog.ErrorContext(ctx, "Periodic sync failed", "error", err)
			}
		}
	}
}
