package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"axdispatch/internal/app"
)

// runFlags are shared by the commands that start a session.
type runFlags struct {
	scenario   string
	configPath string
	debug      bool
	mode       string
	output     string
	color      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scenario, "scenario", "", "Scenario file describing the accessibility tree and events (required)")
	cmd.Flags().StringVar(&f.configPath, "config-path", "", "Configuration directory containing config.yaml (default ~/.config/axdispatch)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Scheduler mode, sync or async (overrides config.yaml)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&f.color, "color", false, "Color table output")
	_ = cmd.MarkFlagRequired("scenario")
}

// run bootstraps and runs the application in the given mode.
func (f *runFlags) run(cmd *cobra.Command, mode app.Mode) error {
	cfg := app.NewConfig(f.debug, f.configPath, f.scenario, mode)
	cfg.SchedulerMode = f.mode
	cfg.OutputFormat = f.output
	cfg.Color = f.color
	cfg.Output = cmd.OutOrStdout()
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}
