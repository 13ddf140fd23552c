package cmd

import (
	"github.com/spf13/cobra"

	"axdispatch/internal/app"
)

func newConsoleCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Drive a session interactively",
		Long: `Loads a scenario's accessibility tree into the in-memory bus and opens an
interactive console. The scenario's events are not played; use 'emit' to
send events, 'remove-app' to make an application vanish, and 'status',
'handlers', 'nodes', 'metrics' or 'history' to inspect the engine.

Type 'help' in the console for the full command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, app.ModeConsole)
		},
	}
	flags.register(cmd)
	return cmd
}
