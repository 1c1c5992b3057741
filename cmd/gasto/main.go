package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gasto/internal/cli"
	"gasto/internal/config"
	applog "gasto/internal/log"
)

var version = "dev"

func main() {
	cli.LoadEnvFile()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "gasto",
		Short:   "Offline-first personal finance tracker",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newEntryCommand(entryExpense),
		newEntryCommand(entryIncome),
		newCategoryCommand(),
		newSummaryCommand(),
	)
	return root
}

// runtime holds what every subcommand needs once configuration is loaded.
type runtime struct {
	cfg       *config.Config
	logger    *applog.Logger
	closeLogs func() error
}

func loadRuntime() (*runtime, error) {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLogs, err := cli.SetupLogger(cfg)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, closeLogs: closeLogs}, nil
}

func (rt *runtime) close() {
	if rt.closeLogs != nil {
		_ = rt.closeLogs()
	}
}

// withApp bootstraps the application, runs fn and tears everything down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := cli.ShutdownContext(cmd.Context(), rt.logger)
	defer cancel()

	app, err := cli.Bootstrap(ctx, rt.cfg, rt.logger)
	if err != nil {
		rt.logger.ErrorContext(ctx, "Failed to start", "error", err)
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Bootstrap migrates; the command only reports the outcome
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Database is up to date (%s backend)\n", app.Backend.Type)
				return nil
			})
		},
	}
}
