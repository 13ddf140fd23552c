package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"axdispatch/internal/config"
	"axdispatch/internal/formatting"
)

func newCheckCmd() *cobra.Command {
	var configPath string
	var output string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long: `Loads config.yaml from the configuration directory, applies the defaults
and validates every section. Problems are reported with suggestions.

Examples:
  axdispatch check
  axdispatch check --config-path ./deploy -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return err
			}
			if configPath == "" {
				configPath = config.GetDefaultConfigPathOrPanic()
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				var coll config.ConfigurationErrorCollection
				if errors.As(err, &coll) {
					fmt.Fprintln(cmd.OutOrStdout(), coll.GetDetailedReport())
				}
				return err
			}

			switch format {
			case formatting.FormatJSON:
				fmt.Fprintln(cmd.OutOrStdout(), formatting.PrettyJSON(cfg))
			case formatting.FormatYAML:
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration in %s is valid\n", configPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config-path", "", "Configuration directory containing config.yaml (default ~/.config/axdispatch)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}
