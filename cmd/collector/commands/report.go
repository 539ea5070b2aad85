package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ahrav/xphere-collector/internal/report"
)

func (c *cli) newReportCommand() *cobra.Command {
	var (
		resource string
		outDir   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Analyze the newest transaction corpus and write an HTML report.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, nil, func(ctx context.Context, rt *runtime) error {
				res, err := rt.cfg.Resource(resource)
				if err != nil {
					return err
				}

				dir := outDir
				if dir == "" {
					dir = filepath.Join(rt.cfg.OutputDir, "reports")
				}

				gen := report.NewGenerator(rt.corpus, rt.log, rt.tracer)
				path, err := gen.Run(ctx, res, dir, c.stdout)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "report written to %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "transactions", "transaction resource to analyze")
	cmd.Flags().StringVar(&outDir, "out", "", "report directory (default <output-dir>/reports)")
	return cmd
}
