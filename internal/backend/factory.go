package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gasto/internal/queue"
	"gasto/internal/storage"
	"gasto/internal/turso"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the store of record named by config.Type
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case LocalBackend:
		return f.createLocalBackend(ctx, config)
	case RemoteBackend:
		return f.createRemoteBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) remoteClient(config Config) (*turso.Client, error) {
	return turso.New(turso.Config{
		URL:       config.TursoURL,
		AuthToken: config.TursoAuthToken,
		Timeout:   config.RemoteTimeout,
	})
}

func (f *DefaultFactory) createLocalBackend(ctx context.Context, config Config) (*Result, error) {
	store, err := storage.Open(ctx, config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize local store: %w", err)
	}

	result := &Result{
		Type:     LocalBackend,
		Executor: store,
		Local:    store,
		Queue:    queue.New(store),
		Cleanup:  store.Close,
	}

	remote, err := f.remoteClient(config)
	switch {
	case errors.Is(err, turso.ErrNotConfigured):
		f.logger.InfoContext(ctx, "No remote database configured, running local-only")
	case err != nil:
		store.Close()
		return nil, fmt.Errorf("initialize remote client: %w", err)
	default:
		result.Remote = remote
	}

	f.logger.InfoContext(ctx, "Initialized local backend",
		"db_path", config.SQLiteDBPath,
		"remote_endpoint", endpointOf(result.Remote))

	return result, nil
}

func (f *DefaultFactory) createRemoteBackend(config Config) (*Result, error) {
	remote, err := f.remoteClient(config)
	if err != nil {
		return nil, fmt.Errorf("initialize remote client: %w", err)
	}

	f.logger.Info("Initialized remote-only backend", "endpoint", remote.Endpoint())

	return &Result{
		Type:     RemoteBackend,
		Executor: remote,
		Cleanup:  func() error { return nil },
	}, nil
}

func endpointOf(c *turso.Client) string {
	if c == nil {
		return ""
	}
	return c.Endpoint()
}
