package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	app "github.com/ahrav/xphere-collector/internal/app/collection"
	"github.com/ahrav/xphere-collector/internal/config"
	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/api"
)

func (c *cli) newCollectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect [resource...]",
		Short: "Collect resources with a full pass followed by a reconciliation pass.",
		Long: "Collect walks every page of each named resource (all configured resources\n" +
			"when none are named), then walks it again and appends only records whose\n" +
			"identifiers the first pass did not see.",
	}
	cmd.Flags().Bool("append", false, "when resuming from a checkpoint, append to the newest existing corpus instead of starting a new one")
	cmd.Flags().Bool("skip-if-fresh", false, "skip resources whose newest corpus was written today")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		bindings := []config.LoaderOption{
			config.WithFlag("append_to_latest", cmd.Flags().Lookup("append")),
			config.WithFlag("skip_if_fresh", cmd.Flags().Lookup("skip-if-fresh")),
		}
		return c.withRuntime(cmd, bindings, func(ctx context.Context, rt *runtime) error {
			return c.run(ctx, rt, args, app.DriverOptions{
				AppendToLatest: rt.cfg.AppendToLatest,
				SkipIfFresh:    rt.cfg.SkipIfFresh,
			})
		})
	}
	return cmd
}

func (c *cli) newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [resource...]",
		Short: "Run only the reconciliation pass against the newest corpus of each resource.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, nil, func(ctx context.Context, rt *runtime) error {
				return c.run(ctx, rt, args, app.DriverOptions{ReconcileOnly: true})
			})
		},
	}
}

// run collects the selected resources one after another. A failing resource
// does not stop the others; every failure is reported in the returned error.
func (c *cli) run(ctx context.Context, rt *runtime, names []string, opts app.DriverOptions) error {
	resources, err := rt.cfg.Select(names)
	if err != nil {
		return err
	}

	fetcher, err := api.NewClient(rt.cfg.API.BaseURL, rt.cfg.API.Timeout, rt.tracer, userAgent(rt.cfg)...)
	if err != nil {
		return err
	}

	collector := app.NewCollector(
		fetcher,
		rt.checkpoints,
		app.RetryPolicy{MaxAttempts: rt.cfg.Retry.MaxAttempts, Backoff: rt.cfg.Retry.Backoff},
		rt.log,
		rt.tracer,
		rt.metrics,
	)
	driver := app.NewDriver(collector, rt.corpus, rt.checkpoints, rt.publisher, opts, rt.log, rt.tracer, rt.metrics)

	var (
		reports []collection.Report
		errs    []error
	)
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := driver.CollectResource(ctx, res)
		if err != nil {
			rt.log.Error(ctx, "collection failed", "resource", res.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, err))
			if report.Corpus == "" {
				continue
			}
		}
		reports = append(reports, report)
	}

	writeReports(c.stdout, reports)
	return errors.Join(errs...)
}

func userAgent(cfg *config.Config) []api.Option {
	if cfg.API.UserAgent == "" {
		return nil
	}
	return []api.Option{api.WithUserAgent(cfg.API.UserAgent)}
}

func writeReports(w io.Writer, reports []collection.Report) {
	if len(reports) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Resource", "Corpus", "First pass", "Delta", "Total", "Complete", "Duration"})
	for _, r := range reports {
		corpus := r.Corpus
		if r.Skipped {
			corpus += " (fresh, skipped)"
		}
		t.AppendRow(table.Row{
			r.Resource,
			corpus,
			r.FirstPassCount,
			r.DeltaCount,
			r.Total(),
			completion(r),
			r.Duration().Round(time.Millisecond),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
}

func completion(r collection.Report) string {
	switch {
	case r.Skipped:
		return "-"
	case r.FirstPassDone && r.SecondPassDone:
		return "yes"
	case r.FirstPassDone && r.SecondPassLast == 0:
		return "second pass skipped"
	case r.FirstPassDone:
		return fmt.Sprintf("second pass stopped at page %d", r.SecondPassLast)
	default:
		return fmt.Sprintf("first pass stopped at page %d", r.FirstPassLast)
	}
}
