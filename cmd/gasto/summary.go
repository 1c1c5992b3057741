package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gasto/internal/cli"
	"gasto/internal/core"
)

func newSummaryCommand() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show monthly totals and the per-category breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if month == "" {
				month = core.CurrentMonth(time.Now())
			}
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				sum, err := app.Summary.MonthSummary(ctx, month)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Month\t%s\n", sum.Month)
				fmt.Fprintf(tw, "Expenses\t%s\n", core.FormatAmount(sum.TotalExpenses))
				fmt.Fprintf(tw, "Incomes\t%s\n", core.FormatAmount(sum.TotalIncomes))
				fmt.Fprintf(tw, "Balance\t%s\n", core.FormatAmount(sum.Balance))
				fmt.Fprintf(tw, "Daily average\t%s\n", core.FormatAmount(sum.DailyAverage))
				if len(sum.ByCategory) > 0 {
					fmt.Fprintln(tw, "\nCATEGORY\tTOTAL\tSHARE")
					for _, c := range sum.ByCategory {
						fmt.Fprintf(tw, "%s\t%s\t%s%%\n", c.Name, core.FormatAmount(c.Total), c.Percentage.StringFixed(1))
					}
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&month, "month", "m", "", "month as YYYY-MM (default current month)")
	return cmd
}
