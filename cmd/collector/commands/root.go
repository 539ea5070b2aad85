// Package commands implements the collector command-line interface.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/xphere-collector/internal/config"
)

// cli carries the state shared by the command tree.
type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
	root       *cobra.Command
}

// NewRootCommand builds the command tree. Results go to stdout, logs to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "collector",
		Short:         "collector mirrors xphere explorer lists into local corpora.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	flags.String("output-dir", "", "directory for corpora, checkpoints and reports")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	c.root = root

	root.AddCommand(
		c.newCollectCommand(),
		c.newReconcileCommand(),
		c.newReportCommand(),
		c.newCheckpointCommand(),
		c.newConfigCommand(),
	)
	return root
}

// loadConfig merges the config file, the environment and the persistent
// flags with any command-specific flag bindings.
func (c *cli) loadConfig(ctx context.Context, bindings ...config.LoaderOption) (*config.Config, error) {
	pflags := c.root.PersistentFlags()
	opts := append([]config.LoaderOption{
		config.WithFlag("output_dir", pflags.Lookup("output-dir")),
		config.WithFlag("log.level", pflags.Lookup("log-level")),
	}, bindings...)
	return config.NewViperLoader(c.configPath, opts...).Load(ctx)
}

// withRuntime loads the configuration, wires the runtime and runs fn.
func (c *cli) withRuntime(
	cmd *cobra.Command,
	bindings []config.LoaderOption,
	fn func(ctx context.Context, rt *runtime) error,
) error {
	ctx := cmd.Context()
	cfg, err := c.loadConfig(ctx, bindings...)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg, c.stderr)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	return fn(ctx, rt)
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
