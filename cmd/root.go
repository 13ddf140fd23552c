package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the axdispatch application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "axdispatch",
	Short: "Dispatch accessibility events to per-application handlers",
	Long: `axdispatch receives accessibility events from applications, keeps a
cache of the accessible objects they refer to, and routes every event to the
handler of the application it came from, retrying when objects vanish under
it.

Scenarios describe an accessibility tree and a sequence of events in YAML.
Use 'axdispatch replay' to run one and print a report, or 'axdispatch
console' to drive the engine interactively.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "axdispatch version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newConsoleCmd())
	rootCmd.AddCommand(newCheckCmd())
}
