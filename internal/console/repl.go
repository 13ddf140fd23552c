package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"axdispatch/internal/bus/memory"
	"axdispatch/internal/formatting"
	"axdispatch/internal/session"
	"axdispatch/pkg/logging"
)

const prompt = "axd> "

// Options configures a REPL.
type Options struct {
	Session *session.Session
	Bus     *memory.Bus

	// Format selects the initial output format.
	Format formatting.Options

	// Out receives command output. Defaults to stdout.
	Out io.Writer

	// HistoryFile keeps readline history across runs. Defaults to a file in
	// the temp directory.
	HistoryFile string
}

// REPL is an interactive console bound to one session.
type REPL struct {
	shell       *shell
	historyFile string
	rl          *readline.Instance
}

// NewREPL creates a REPL with every command registered.
func NewREPL(opts Options) *REPL {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	history := opts.HistoryFile
	if history == "" {
		history = filepath.Join(os.TempDir(), ".axdispatch_history")
	}

	sh := &shell{
		session:   opts.Session,
		bus:       opts.Bus,
		out:       out,
		options:   opts.Format,
		formatter: formatting.New(opts.Format),
		registry:  NewRegistry(),
	}
	sh.register()

	return &REPL{shell: sh, historyFile: history}
}

// Registry returns the command registry.
func (r *REPL) Registry() *Registry {
	return r.shell.registry
}

// Execute parses and runs one command line. Empty input is ignored.
func (r *REPL) Execute(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	name := strings.ToLower(parts[0])
	cmd, ok := r.shell.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", parts[0])
	}
	return cmd.Execute(ctx, parts[1:])
}

// Run reads commands until exit, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       r.historyFile,
		AutoComplete:      r.createCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            r.shell.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	// Readline blocks in Read; closing it on cancellation unblocks the loop.
	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	logging.Info("Console", "Console started for session %s. Type 'help' for available commands.", r.shell.session.ID())

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		if err := r.Execute(ctx, strings.TrimSpace(line)); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			fmt.Fprintf(r.shell.out, "Error: %v\n", err)
		}
	}
}

// createCompleter builds tab completion for command names and the
// arguments each command offers.
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range r.shell.registry.List() {
		cmd, _ := r.shell.registry.Get(name)
		names := append([]string{name}, cmd.Aliases()...)
		for _, n := range names {
			items = append(items, readline.PcItem(n, readline.PcItemDynamic(func(string) []string {
				return cmd.Completions()
			})))
		}
	}
	return readline.NewPrefixCompleter(items...)
}
