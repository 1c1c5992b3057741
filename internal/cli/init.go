// Package cli provides the initialization shared by the gasto commands:
// environment, logging, backend selection and service wiring.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gasto/internal/amqp"
	"gasto/internal/backend"
	"gasto/internal/config"
	"gasto/internal/connectivity"
	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/queue"
	"gasto/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the application logger from LOG_LEVEL and LOG_FILE and
// installs it as the slog default. The returned func closes the log file.
func SetupLogger(cfg *config.Config) (*applog.Logger, func() error, error) {
	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stdout
	closeFn := func() error { return nil }
	if cfg.LogFile != "" {
		f, err := applog.FileOutput(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeFn = f.Close
	}

	logger := applog.New(applog.Config{
		Level:     level,
		Component: applog.ComponentApp,
		Output:    out,
	})
	applog.SetDefault(logger)
	return logger, closeFn, nil
}

// App holds the services of one process. Build it with Bootstrap and
// release it with Close.
type App struct {
	Config  *config.Config
	Logger  *applog.Logger
	Backend *backend.Result

	Categories *services.CategoryRepository
	Expenses   *services.EntryRepository
	Incomes    *services.EntryRepository
	Summary    *services.SummaryService
	Sync       *services.SyncCoordinator

	// Monitor is nil unless a remote mirror is configured
	Monitor      *connectivity.Monitor
	Connectivity connectivity.Subscribable

	// AMQP is nil when AMQP_URL is empty or the broker was unreachable
	AMQP *amqp.Client
}

// Bootstrap opens the configured backend, applies pending migrations and
// wires every service.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*App, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	if _, err := res.Migrate(ctx); err != nil {
		res.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	app := &App{Config: cfg, Logger: logger, Backend: res}

	app.Categories = services.NewCategoryRepository(res.Executor, res.Queue)
	if app.Expenses, err = services.NewEntryRepository(core.KindExpense, res.Executor, res.Queue); err != nil {
		res.Close()
		return nil, err
	}
	if app.Incomes, err = services.NewEntryRepository(core.KindIncome, res.Executor, res.Queue); err != nil {
		res.Close()
		return nil, err
	}
	app.Summary = services.NewSummaryService(res.Executor)

	// A nil *turso.Client must not become a non-nil Remote interface
	var remote services.Remote
	switch {
	case res.Remote != nil:
		remote = res.Remote
		addr, err := connectivity.AddressFor(cfg.TursoURL)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("resolve remote address: %w", err)
		}
		app.Monitor = connectivity.New(connectivity.TCPProbe(addr, connectivity.DefaultProbeTimeout), cfg.ConnectivityInterval)
		app.Monitor.Check(ctx)
		app.Connectivity = app.Monitor
	case res.Type == backend.RemoteBackend:
		app.Connectivity = connectivity.NewStatic(true)
	default:
		app.Connectivity = connectivity.NewStatic(false)
	}

	app.Sync = services.NewSyncCoordinator(res.Executor, res.Queue, remote, app.Connectivity, services.SyncCoordinatorConfig{
		BatchSize:     cfg.SyncBatchSize,
		Interval:      cfg.SyncInterval,
		RemoteTimeout: cfg.RemoteTimeout,
	})

	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without sync notifications", "error", err)
		} else {
			app.AMQP = client
			logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	if res.Queue != nil {
		res.Queue.SetNotifier(app.notifier())
	}

	return app, nil
}

// notifier wakes the local coordinator and, when AMQP is up, tells other
// processes about the change.
func (a *App) notifier() queue.Notifier {
	if a.AMQP == nil {
		return a.Sync
	}
	return queue.NotifierFunc(func(ctx context.Context, item queue.Item) error {
		_ = a.Sync.QueueChanged(ctx, item)
		return a.AMQP.QueueChanged(ctx, item)
	})
}

// Close releases the AMQP connection and the backend.
func (a *App) Close() error {
	if a.AMQP != nil {
		a.AMQP.Close()
	}
	return a.Backend.Close()
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context, logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
