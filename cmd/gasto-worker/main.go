package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"gasto/internal/cli"
	"gasto/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger, closeLogs, err := cli.SetupLogger(cfg)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer closeLogs()

	logger.Info("Starting gasto-worker")

	ctx, cancel := cli.ShutdownContext(context.Background(), logger)
	defer cancel()

	app, err := cli.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Backend.Remote == nil {
		logger.Error("gasto-worker needs a local database with a remote configured")
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(app.Sync)

	// Process whatever accumulated while no worker was running
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if app.Monitor != nil {
		g.Go(func() error { return app.Monitor.Run(gctx) })
	}

	if app.AMQP != nil {
		g.Go(func() error {
			err := app.AMQP.ConsumeSyncRequests(gctx, syncWorker.HandleSyncRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
				return err
			}
			return nil
		})
	} else {
		logger.Info("Skipping AMQP message consumption - AMQP not configured")
	}

	// Periodic sync covers lost messages and runs alone without AMQP
	g.Go(func() error { return syncWorker.RunPeriodic(gctx, cfg.SyncInterval) })

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
