package commands

import (
	"github.com/spf13/cobra"
)

func (c *cli) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after merging the file, environment and flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return cfg.Write(c.stdout)
		},
	})
	return cmd
}
