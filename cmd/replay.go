package cmd

import (
	"github.com/spf13/cobra"

	"axdispatch/internal/app"
)

func newReplayCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play a scenario through the dispatcher and print a report",
		Long: `Loads a scenario into the in-memory bus, starts a session and emits every
scenario event. Once the queue has drained, the live handlers, the session
status, per-event-type dispatch counters and everything the handlers
presented are printed.

Configuration is read from config.yaml in --config-path. A missing file
means the built-in defaults.

Examples:
  axdispatch replay --scenario testdata/gedit.yaml
  axdispatch replay --scenario s.yaml --mode sync -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, app.ModeReplay)
		},
	}
	flags.register(cmd)
	return cmd
}
