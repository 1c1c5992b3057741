package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gasto/internal/cli"
	"gasto/internal/core"
	"gasto/internal/services"
)

const (
	entryExpense = core.KindExpense
	entryIncome  = core.KindIncome
)

func repoFor(app *cli.App, kind core.Kind) *services.EntryRepository {
	if kind == core.KindIncome {
		return app.Incomes
	}
	return app.Expenses
}

// newEntryCommand builds the expense or income command group.
func newEntryCommand(kind core.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Manage %ss", kind),
	}
	cmd.AddCommand(
		newEntryAddCommand(kind),
		newEntryListCommand(kind),
		newEntryUpdateCommand(kind),
		newEntryDeleteCommand(kind),
	)
	return cmd
}

func newEntryAddCommand(kind core.Kind) *cobra.Command {
	var category, date string

	cmd := &cobra.Command{
		Use:   "add <amount> <description>",
		Short: fmt.Sprintf("Record a new %s", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := core.ParseAmount(args[0])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[0], err)
			}
			if date == "" {
				date = time.Now().Format(core.DateLayout)
			}

			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := repoFor(app, kind).Add(ctx, core.EntryInput{
					Value:       value,
					CategoryID:  category,
					Date:        date,
					Description: args[1],
				})
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Added", m)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "cat-other", "category id")
	cmd.Flags().StringVarP(&date, "date", "d", "", "date as YYYY-MM-DD (default today)")
	return cmd
}

func newEntryListCommand(kind core.Kind) *cobra.Command {
	var filter core.EntryFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %ss, newest first", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				entries, err := repoFor(app, kind).FetchAll(ctx, filter)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tDATE\tAMOUNT\tCATEGORY\tDESCRIPTION\tSYNCED")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
						e.ID, e.Date, core.FormatAmount(e.Value), e.CategoryID, e.Description, e.Synced)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&filter.Month, "month", "m", "", "only entries of YYYY-MM")
	cmd.Flags().StringVarP(&filter.CategoryID, "category", "c", "", "only entries of this category id")
	return cmd
}

func newEntryUpdateCommand(kind core.Kind) *cobra.Command {
	var amount, category, date, description string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Change fields of an existing %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch core.EntryPatch
			flags := cmd.Flags()
			if flags.Changed("amount") {
				value, err := core.ParseAmount(amount)
				if err != nil {
					return fmt.Errorf("amount %q: %w", amount, err)
				}
				patch.Value = &value
			}
			if flags.Changed("category") {
				patch.CategoryID = &category
			}
			if flags.Changed("date") {
				patch.Date = &date
			}
			if flags.Changed("description") {
				patch.Description = &description
			}

			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := repoFor(app, kind).Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Updated", m)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&amount, "amount", "a", "", "new amount")
	cmd.Flags().StringVarP(&category, "category", "c", "", "new category id")
	cmd.Flags().StringVarP(&date, "date", "d", "", "new date as YYYY-MM-DD")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func newEntryDeleteCommand(kind core.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: fmt.Sprintf("Delete a %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := repoFor(app, kind).Delete(ctx, args[0])
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Deleted", m)
				return nil
			})
		},
	}
}

func printMutation(w io.Writer, verb string, m services.Mutation) {
	switch {
	case m.QueueErr != nil:
		fmt.Fprintf(w, "%s %s (saved locally, not queued for sync: %v)\n", verb, m.ID, m.QueueErr)
	case m.Queued:
		fmt.Fprintf(w, "%s %s (queued for sync)\n", verb, m.ID)
	default:
		fmt.Fprintf(w, "%s %s\n", verb, m.ID)
	}
}
