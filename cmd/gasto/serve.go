package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gasto/internal/cli"
	apphttp "gasto/internal/http"
	"gasto/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, app *cli.App) error {
	logger := app.Logger

	ready := func(ctx context.Context) error {
		if app.Backend.Local != nil {
			return app.Backend.Local.DB().PingContext(ctx)
		}
		return app.Backend.Remote.Ping(ctx)
	}
	srv := apphttp.NewServer(":"+app.Config.Port, apphttp.Deps{
		Categories: app.Categories,
		Expenses:   app.Expenses,
		Incomes:    app.Incomes,
		Summary:    app.Summary,
		Sync:       app.Sync,
		Ready:      ready,
		Logger:     logger,
	})

	if err := app.Sync.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Sync.Stop(stopCtx); err != nil {
			logger.Error("Sync coordinator shutdown error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "Starting gasto server",
			"port", app.Config.Port,
			"backend", app.Backend.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return srv.RunJanitor(gctx) })

	if app.Monitor != nil {
		g.Go(func() error { return app.Monitor.Run(gctx) })
	}

	if app.AMQP != nil {
		w := worker.NewSyncWorker(app.Sync)
		g.Go(func() error {
			err := app.AMQP.ConsumeSyncRequests(gctx, w.HandleSyncRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				// The periodic tick still covers sync; keep serving
				logger.WarnContext(gctx, "Sync request consumption stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	logger.Info("Server stopped gracefully")
	return err
}
