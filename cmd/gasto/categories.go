package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gasto/internal/cli"
	"gasto/internal/core"
)

func newCategoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"categories"},
		Short:   "Manage categories",
	}
	cmd.AddCommand(
		newCategoryAddCommand(),
		newCategoryListCommand(),
		newCategoryUpdateCommand(),
		newCategoryDeleteCommand(),
	)
	return cmd
}

func newCategoryAddCommand() *cobra.Command {
	var in core.CategoryInput

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := app.Categories.Add(ctx, in)
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Added", m)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.Icon, "icon", "tag", "icon name")
	cmd.Flags().StringVar(&in.Color, "color", "#95A5A6", "color as #RRGGBB")
	return cmd
}

func newCategoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories, defaults first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				cats, err := app.Categories.FetchAll(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tICON\tCOLOR\tDEFAULT")
				for _, c := range cats {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", c.ID, c.Name, c.Icon, c.Color, c.IsDefault)
				}
				return tw.Flush()
			})
		},
	}
}

func newCategoryUpdateCommand() *cobra.Command {
	var name, icon, color string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename or restyle a user category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch core.CategoryPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("icon") {
				patch.Icon = &icon
			}
			if flags.Changed("color") {
				patch.Color = &color
			}

			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := app.Categories.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Updated", m)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&icon, "icon", "", "new icon name")
	cmd.Flags().StringVar(&color, "color", "", "new color as #RRGGBB")
	return cmd
}

func newCategoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused user category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				m, err := app.Categories.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), "Deleted", m)
				return nil
			})
		},
	}
}
