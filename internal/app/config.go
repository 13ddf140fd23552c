package app

import (
	"fmt"
	"io"

	"axdispatch/internal/config"
)

// Mode selects what the application does once the session is running.
type Mode string

const (
	// ModeReplay plays the scenario's events, waits for the queue to drain
	// and prints a report.
	ModeReplay Mode = "replay"

	// ModeConsole starts an interactive console on the scenario's tree.
	ModeConsole Mode = "console"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplay, ModeConsole:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown run mode %q (want replay or console)", s)
	}
}

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// ConfigPath is the directory holding config.yaml. Empty uses the
	// default user configuration directory.
	ConfigPath string

	// ScenarioPath is the YAML scenario loaded into the in-memory bus
	ScenarioPath string

	Mode Mode

	// SchedulerMode overrides scheduler.mode from the config file when set
	SchedulerMode string

	// OutputFormat is the report and console format (table, json, yaml)
	OutputFormat string

	// Color enables colored tables
	Color bool

	// Output receives reports and console output. Defaults to stdout.
	Output io.Writer

	// LogOutput receives log records. Defaults to stderr.
	LogOutput io.Writer

	// Settings is the loaded engine configuration, set by NewApplication
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, scenarioPath string, mode Mode) *Config {
	return &Config{
		Debug:        debug,
		ConfigPath:   configPath,
		ScenarioPath: scenarioPath,
		Mode:         mode,
	}
}
