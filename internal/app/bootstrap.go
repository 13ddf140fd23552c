package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"axdispatch/internal/bus/memory"
	"axdispatch/internal/config"
	"axdispatch/internal/formatting"
	"axdispatch/internal/session"
	"axdispatch/pkg/logging"
)

// Application bootstraps and runs one session against a scenario.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: initialize logging, load configuration and the
//     scenario, build the session
//  2. Execution phase: run the selected mode until it finishes or a signal
//     arrives
//
// Example usage:
//
//	cfg := app.NewConfig(false, "", "scenario.yaml", app.ModeReplay)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config    *Config
	scenario  *memory.Scenario
	bus       *memory.Bus
	session   *session.Session
	formatter formatting.Formatter
	out       io.Writer
}

// NewApplication performs the bootstrap sequence:
//
//  1. Configures logging for CLI output
//  2. Loads config.yaml from cfg.ConfigPath or the default directory
//  3. Reconfigures logging from the loaded settings
//  4. Loads the scenario and builds the in-memory bus
//  5. Builds the session
func NewApplication(cfg *Config) (*Application, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.InitForCLI(bootLevel, logOutput)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	settings, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", configPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if cfg.SchedulerMode != "" {
		settings.Scheduler.Mode = cfg.SchedulerMode
	}
	cfg.Settings = &settings

	level, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(logging.Options{
		Level:  level,
		Format: logging.Format(settings.Logging.Format),
		Output: logOutput,
	})

	format, err := formatting.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}

	if cfg.ScenarioPath == "" {
		return nil, fmt.Errorf("a scenario file is required")
	}
	scenario, err := memory.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load scenario %s", cfg.ScenarioPath)
		return nil, err
	}
	bus, err := scenario.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scenario %s: %w", cfg.ScenarioPath, err)
	}
	logging.Info("Bootstrap", "Loaded scenario %s: %d applications, %d events",
		cfg.ScenarioPath, len(scenario.Applications), len(scenario.Steps))

	s, err := session.New(session.Options{Bus: bus, Config: settings})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	return &Application{
		config:    cfg,
		scenario:  scenario,
		bus:       bus,
		session:   s,
		formatter: formatting.New(formatting.Options{Format: format, Color: cfg.Color}),
		out:       out,
	}, nil
}

// Session returns the application's session.
func (a *Application) Session() *session.Session {
	return a.session
}

// Run starts the session, runs the selected mode and shuts the session
// down. SIGINT and SIGTERM cancel the run.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := withSignals(ctx)
	defer stop()

	if err := a.session.Init(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer a.session.Shutdown()

	switch a.config.Mode {
	case ModeConsole:
		return runConsoleMode(ctx, a)
	default:
		return runReplayMode(ctx, a)
	}
}
