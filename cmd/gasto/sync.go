package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gasto/internal/amqp"
	"gasto/internal/cli"
	"gasto/internal/core"
)

func newSyncCommand() *cobra.Command {
	var request bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending local changes to the remote database",
		Long: "Runs one sync cycle in this process. With --request the cycle is\n" +
			"delegated to whichever process consumes the AMQP sync queue.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				out := cmd.OutOrStdout()
				if request {
					if app.AMQP == nil {
						return fmt.Errorf("sync request: AMQP is not configured")
					}
					if err := app.AMQP.PublishSyncRequest(ctx, amqp.NewSyncRequestMessage(amqp.ReasonManual, "", "")); err != nil {
						return fmt.Errorf("publish sync request: %w", err)
					}
					fmt.Fprintln(out, "Sync requested")
					return nil
				}

				report, err := app.Sync.Sync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Replayed %d change(s) in %d batch(es), dropped %d, %d remaining\n",
					report.Replayed, report.Batches, report.Dropped, report.Remaining)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&request, "request", false, "publish a sync request over AMQP instead of syncing here")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				st, err := app.Sync.Status(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backend:  %s\n", app.Backend.Type)
				fmt.Fprintf(out, "State:    %s\n", st.State)
				fmt.Fprintf(out, "Online:   %t\n", st.Online)
				fmt.Fprintf(out, "Pending:  %d\n", st.Pending)
				if st.LastSyncAt != nil {
					fmt.Fprintf(out, "Last sync: %s\n", core.FormatTimestamp(*st.LastSyncAt))
				}
				if st.LastError != "" {
					fmt.Fprintf(out, "Last error: %s\n", st.LastError)
				}
				return nil
			})
		},
	}
}
