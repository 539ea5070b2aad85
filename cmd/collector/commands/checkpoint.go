package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (c *cli) newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear first-pass resume checkpoints.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [resource...]",
		Short: "Show the saved resume page of each resource.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, nil, func(ctx context.Context, rt *runtime) error {
				resources, err := rt.cfg.Select(args)
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(c.stdout)
				t.SetStyle(table.StyleRounded)
				t.AppendHeader(table.Row{"Resource", "Resume page", "Updated"})
				for _, res := range resources {
					cp, err := rt.checkpoints.Load(ctx, res.Name)
					if err != nil {
						return fmt.Errorf("failed to load checkpoint for %s: %w", res.Name, err)
					}
					if cp == nil {
						t.AppendRow(table.Row{res.Name, "-", "-"})
						continue
					}
					t.AppendRow(table.Row{res.Name, cp.Page, cp.UpdatedAt.Format(time.RFC3339)})
				}
				t.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear resource...",
		Short: "Delete the checkpoints of the named resources so the next run starts at page 1.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, nil, func(ctx context.Context, rt *runtime) error {
				resources, err := rt.cfg.Select(args)
				if err != nil {
					return err
				}
				for _, res := range resources {
					if err := rt.checkpoints.Delete(ctx, res.Name); err != nil {
						return fmt.Errorf("failed to clear checkpoint for %s: %w", res.Name, err)
					}
					fmt.Fprintf(c.stdout, "cleared checkpoint for %s\n", res.Name)
				}
				return nil
			})
		},
	})
	return cmd
}
