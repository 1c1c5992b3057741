package backend

import (
	"context"
	"time"

	"gasto/internal/queue"
	"gasto/internal/storage"
	"gasto/internal/turso"
)

// CleanupFunc releases the resources held by a backend
type CleanupFunc func() error

// Result is everything the application needs from the selected backend.
type Result struct {
	Type BackendType

	// Executor is the store of record: the local SQLite store, or the
	// remote client in remote-only mode.
	Executor storage.Executor

	// Local is nil in remote-only mode.
	Local *storage.Store

	// Remote is the sync target of the local store. Nil when no remote is
	// configured, and nil in remote-only mode where there is nothing to
	// replay.
	Remote *turso.Client

	// Queue records local mutations for replay. Local-only mode still
	// records them so a remote configured later receives the history.
	// Nil in remote-only mode.
	Queue *queue.Queue

	Cleanup CleanupFunc
}

// Migrate brings the store of record to the latest schema version and
// returns the number of migrations applied.
func (r *Result) Migrate(ctx context.Context) (int, error) {
	m, err := storage.NewMigrator(r.Executor)
	if err != nil {
		return 0, err
	}
	defer m.Close()
	return m.Up(ctx)
}

// Close runs Cleanup once.
func (r *Result) Close() error {
	if r.Cleanup == nil {
		return nil
	}
	cleanup := r.Cleanup
	r.Cleanup = nil
	return cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Local store
	SQLiteDBPath string

	// Remote database; both empty means local-only
	TursoURL       string
	TursoAuthToken string
	RemoteTimeout  time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	LocalBackend  BackendType = "local"
	RemoteBackend BackendType = "remote"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case LocalBackend, RemoteBackend:
		return true
	default:
		return false
	}
}
