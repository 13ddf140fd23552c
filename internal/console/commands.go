package console

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"axdispatch/internal/api"
	"axdispatch/internal/bus/memory"
	"axdispatch/internal/formatting"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/session"
)

// settleTimeout bounds how long a driving command waits for the queue to
// drain before printing.
const settleTimeout = 5 * time.Second

// eventTypes are offered as completions for emit.
var eventTypes = []string{
	api.EventFocus,
	api.EventWindowActivate,
	api.EventWindowDeactivate,
	api.EventStateChangedFocused,
	api.EventStateChangedShowing,
	api.EventStateChangedDefunct,
	api.EventChildrenChangedAdd,
	api.EventChildrenChangedRemove,
	api.EventPropertyChangeName,
	api.EventPropertyChangeDescription,
	api.EventPropertyChangeParent,
	api.EventTextChanged,
	api.EventTextCaretMoved,
	api.EventSelectionChanged,
	api.EventDocumentLoadComplete,
	api.EventKeyboardPress,
}

// funcCommand adapts a function to the Command interface.
type funcCommand struct {
	usage       string
	description string
	aliases     []string
	completions func() []string
	run         func(ctx context.Context, args []string) error
}

func (c *funcCommand) Execute(ctx context.Context, args []string) error { return c.run(ctx, args) }
func (c *funcCommand) Usage() string                                    { return c.usage }
func (c *funcCommand) Description() string                              { return c.description }
func (c *funcCommand) Aliases() []string                                { return c.aliases }

func (c *funcCommand) Completions() []string {
	if c.completions == nil {
		return nil
	}
	return c.completions()
}

// shell holds what the commands operate on.
type shell struct {
	session   *session.Session
	bus       *memory.Bus
	out       io.Writer
	formatter formatting.Formatter
	options   formatting.Options
	registry  *Registry
}

func (s *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) register() {
	r := s.registry
	r.Register("help", &funcCommand{
		usage:       "help [command]",
		description: "Show available commands or the usage of one command",
		aliases:     []string{"?"},
		completions: r.List,
		run:         s.help,
	})
	r.Register("status", &funcCommand{
		usage:       "status",
		description: "Show the session status",
		run: func(ctx context.Context, args []string) error {
			s.printf("%s", s.formatter.FormatStatus(s.session.Status()))
			return nil
		},
	})
	r.Register("handlers", &funcCommand{
		usage:       "handlers",
		description: "List live handlers and their interests",
		run: func(ctx context.Context, args []string) error {
			s.printf("%s", s.formatter.FormatHandlers(s.session.Registry().Handlers()))
			return nil
		},
	})
	r.Register("nodes", &funcCommand{
		usage:       "nodes [application-ref]",
		description: "List cached nodes, optionally of one application",
		completions: s.applicationRefs,
		run:         s.nodes,
	})
	r.Register("metrics", &funcCommand{
		usage:       "metrics",
		description: "Show dispatch counters per event type",
		run: func(ctx context.Context, args []string) error {
			s.printf("%s", s.formatter.FormatMetrics(s.session.Metrics().Summary()))
			return nil
		},
	})
	r.Register("history", &funcCommand{
		usage:       "history",
		description: "Show what handlers presented",
		run:         s.history,
	})
	r.Register("emit", &funcCommand{
		usage:       "emit <type> <source|desktop> [detail1] [detail2] [data...]",
		description: "Emit an event on the bus",
		completions: func() []string { return eventTypes },
		run:         s.emit,
	})
	r.Register("remove-app", &funcCommand{
		usage:       "remove-app <application-ref>",
		description: "Remove an application from the bus and announce it on the desktop",
		completions: s.applicationRefs,
		run:         s.removeApp,
	})
	r.Register("reconcile", &funcCommand{
		usage:       "reconcile",
		description: "Drop handlers of applications that left the bus",
		run: func(ctx context.Context, args []string) error {
			before := s.session.Registry().Len()
			if err := s.session.Reconcile(); err != nil {
				return err
			}
			if err := s.settle(ctx); err != nil {
				return err
			}
			s.printf("%d handlers removed\n", before-s.session.Registry().Len())
			return nil
		},
	})
	r.Register("reload", &funcCommand{
		usage:       "reload <profile>",
		description: "Reapply a profile to the handlers of its application",
		completions: s.profileNames,
		run:         s.reload,
	})
	r.Register("format", &funcCommand{
		usage:       "format <table|json|yaml>",
		description: "Switch the output format",
		completions: func() []string {
			return []string{string(formatting.FormatTable), string(formatting.FormatJSON), string(formatting.FormatYAML)}
		},
		run: s.setFormat,
	})
	r.Register("exit", &funcCommand{
		usage:       "exit",
		description: "Exit the console",
		aliases:     []string{"quit", "q"},
		run: func(ctx context.Context, args []string) error {
			return ErrExit
		},
	})
}

func (s *shell) help(ctx context.Context, args []string) error {
	if len(args) > 0 {
		cmd, ok := s.registry.Get(strings.ToLower(args[0]))
		if !ok {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		s.printf("Usage: %s\n  %s\n", cmd.Usage(), cmd.Description())
		if aliases := cmd.Aliases(); len(aliases) > 0 {
			s.printf("Aliases: %s\n", strings.Join(aliases, ", "))
		}
		return nil
	}

	s.printf("Available commands:\n")
	for _, name := range s.registry.List() {
		cmd, _ := s.registry.Get(name)
		s.printf("  %-58s - %s\n", cmd.Usage(), cmd.Description())
	}
	return nil
}

func (s *shell) nodes(ctx context.Context, args []string) error {
	var app api.Ref
	if len(args) > 0 {
		ref, err := api.ParseRef(args[0])
		if err != nil {
			return err
		}
		app = ref
	}

	cache := s.session.Nodes()
	var infos []nodecache.Info
	if !app.IsNil() {
		infos = cache.ApplicationInfos(app)
	} else {
		for _, ref := range cache.Refs() {
			if info, ok := cache.Info(ref); ok {
				infos = append(infos, info)
			}
		}
	}
	s.printf("%s", s.formatter.FormatNodes(infos))
	return nil
}

func (s *shell) history(ctx context.Context, args []string) error {
	p, ok := s.session.Presenter().(*handlers.LogPresenter)
	if !ok {
		return fmt.Errorf("presenter %T keeps no history", s.session.Presenter())
	}
	s.printf("%s", s.formatter.FormatPresentations(p.History()))
	return nil
}

func (s *shell) emit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: emit <type> <source|desktop> [detail1] [detail2] [data...]")
	}
	step := memory.Step{Type: args[0], Source: args[1]}

	// Leading integers fill detail1 and detail2; the rest is payload.
	rest := args[2:]
	for _, dst := range []*int{&step.Detail1, &step.Detail2} {
		if len(rest) == 0 {
			break
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			break
		}
		*dst = n
		rest = rest[1:]
	}
	step.AnyData = strings.Join(rest, " ")

	if err := s.bus.Apply(step); err != nil {
		return err
	}
	return s.settle(ctx)
}

func (s *shell) removeApp(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove-app <application-ref>")
	}
	app, err := api.ParseRef(args[0])
	if err != nil {
		return err
	}
	if err := s.bus.Apply(memory.Step{
		Type:              api.EventChildrenChangedRemove,
		Source:            "desktop",
		RemoveApplication: app,
	}); err != nil {
		return err
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	s.printf("Removed %s, %d handlers left\n", app, s.session.Registry().Len())
	return nil
}

func (s *shell) reload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reload <profile>")
	}
	if err := s.session.ReloadProfile(args[0]); err != nil {
		return err
	}
	return s.settle(ctx)
}

func (s *shell) setFormat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: format <table|json|yaml>")
	}
	f, err := formatting.ParseFormat(args[0])
	if err != nil {
		return err
	}
	s.options.Format = f
	s.formatter = formatting.New(s.options)
	s.printf("Output format set to %s\n", f)
	return nil
}

// settle waits for the consumer to catch up so that output reflects the
// command's effect.
func (s *shell) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return s.session.WaitIdle(ctx)
}

func (s *shell) applicationRefs() []string {
	apps, err := s.bus.Applications(context.Background())
	if err != nil {
		return nil
	}
	out := make([]string, len(apps))
	for i, app := range apps {
		out[i] = app.String()
	}
	slices.Sort(out)
	return out
}

func (s *shell) profileNames() []string {
	names, err := s.session.Profiles().List()
	if err != nil {
		return nil
	}
	return names
}
