package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"axdispatch/internal/console"
	"axdispatch/internal/formatting"
	"axdispatch/internal/handlers"
	"axdispatch/pkg/logging"
)

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logging.Info("CLI", "Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runReplayMode plays every scenario event, waits for the queue to drain
// and prints the report. An interrupted replay still prints what was
// processed so far.
func runReplayMode(ctx context.Context, a *Application) error {
	logging.Info("CLI", "Replaying %d events in %s mode", len(a.scenario.Steps), a.session.Status().Mode)

	played, playErr := a.bus.Play(ctx, a.scenario.Steps)
	if playErr != nil && !errors.Is(playErr, context.Canceled) {
		logging.Error("CLI", playErr, "Replay stopped after %d events", played)
	}

	if err := a.session.WaitIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("waiting for the queue to drain: %w", err)
	}
	logging.Info("CLI", "Replayed %d of %d events", played, len(a.scenario.Steps))

	a.printReport()

	if playErr != nil && !errors.Is(playErr, context.Canceled) {
		return playErr
	}
	return nil
}

func (a *Application) printReport() {
	table := a.config.OutputFormat == "" || a.config.OutputFormat == string(formatting.FormatTable)
	section := func(title, body string) {
		if table {
			fmt.Fprintf(a.out, "\n%s\n", title)
		}
		fmt.Fprint(a.out, body)
	}

	section("Handlers", a.formatter.FormatHandlers(a.session.Registry().Handlers()))
	section("Session", a.formatter.FormatStatus(a.session.Status()))
	section("Dispatch", a.formatter.FormatMetrics(a.session.Metrics().Summary()))
	if p, ok := a.session.Presenter().(*handlers.LogPresenter); ok {
		section("Presented", a.formatter.FormatPresentations(p.History()))
	}
}

// runConsoleMode runs the interactive console until exit or a signal.
func runConsoleMode(ctx context.Context, a *Application) error {
	format, err := formatting.ParseFormat(a.config.OutputFormat)
	if err != nil {
		return err
	}
	repl := console.NewREPL(console.Options{
		Session: a.session,
		Bus:     a.bus,
		Out:     a.out,
		Format:  formatting.Options{Format: format, Color: a.config.Color},
	})
	return repl.Run(ctx)
}
