package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"axdispatch/internal/api"
	"axdispatch/internal/config"
	"axdispatch/internal/dispatcher"
	"axdispatch/internal/eventqueue"
	"axdispatch/internal/focus"
	"axdispatch/internal/handlers"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/profiles"
	"axdispatch/internal/registry"
	"axdispatch/pkg/logging"
)

// ErrNotRunning is returned by operations that need an initialized session.
var ErrNotRunning = errors.New("session not running")

// Options configures a Session.
type Options struct {
	// Bus is the accessibility bus adapter. Required.
	Bus api.Bus

	Config config.Config

	// Presenter renders handler output. Defaults to a LogPresenter.
	Presenter handlers.Presenter

	// Bindings receives the active handler's key bindings. Optional.
	Bindings focus.BindingSink
}

// Status is a point-in-time view of a session.
type Status struct {
	ID        string           `json:"id"`
	Mode      eventqueue.Mode  `json:"mode"`
	Running   bool             `json:"running"`
	StartedAt time.Time        `json:"startedAt"`
	Queue     eventqueue.Stats `json:"queue"`
	Cache     nodecache.Stats  `json:"cache"`
	Handlers  int              `json:"handlers"`
	Active    focus.Status     `json:"active"`
}

// Session owns one instance of every engine component and their wiring. It
// replaces process-wide globals: several sessions can coexist, e.g. in
// tests.
//
// Lifecycle: New, Init, then Shutdown. Events reach the session through
// OnEvent, which the registry subscribes on the Bus.
type Session struct {
	id   string
	cfg  config.Config
	bus  api.Bus
	mode eventqueue.Mode

	nodes      *nodecache.Cache
	tracker    *focus.Tracker
	selector   *focus.Selector
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	queue      *eventqueue.Queue
	scheduler  *eventqueue.Scheduler
	presenter  handlers.Presenter
	bindings   focus.BindingSink
	profiles   *profiles.Store
	watcher    *profiles.Watcher

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ api.Listener = (*Session)(nil)

// New builds a session from opts. Nothing runs until Init.
func New(opts Options) (*Session, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("session: bus is required")
	}
	cfg := opts.Config

	mode, err := eventqueue.ParseMode(cfg.Scheduler.Mode)
	if err != nil {
		return nil, err
	}
	overflow, err := eventqueue.ParseOverflowPolicy(cfg.Queue.Overflow)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.New().String(),
		cfg:      cfg,
		bus:      opts.Bus,
		mode:     mode,
		nodes:    nodecache.New(opts.Bus),
		tracker:  focus.NewTracker(),
		bindings: opts.Bindings,
		profiles: profiles.NewStore(cfg.Profiles.Dir),
	}

	s.presenter = opts.Presenter
	if s.presenter == nil {
		s.presenter = handlers.NewLogPresenter(s.nodes, 0)
	}
	s.selector = focus.NewSelector(s.nodes, s.bindings)

	env := handlers.Env{
		Nodes:             s.nodes,
		Focus:             s.tracker,
		Presenter:         s.presenter,
		Profiles:          s.profiles,
		DefaultMaxRetries: cfg.Dispatch.MaxRetries,
	}
	s.registry = registry.New(registry.Config{
		Source:    opts.Bus,
		Nodes:     s.nodes,
		Factory:   handlers.NewFactory(env),
		Listener:  s,
		ListenAll: cfg.Registry.ListenAll,
		OnEvict:   s.handlerEvicted,
	})

	retryWait := cfg.Dispatch.RetryWait
	if retryWait == 0 {
		// Zero in the config means no pause, not the package default.
		retryWait = -1
	}
	s.dispatcher = dispatcher.New(dispatcher.Config{
		Nodes:     s.nodes,
		Registry:  s.registry,
		Selector:  s.selector,
		Focus:     s.tracker,
		Desktop:   opts.Bus.DesktopRoot(),
		RetryWait: retryWait,
	})

	s.queue = eventqueue.New(eventqueue.Options{
		Capacity:     cfg.Queue.Capacity,
		Overflow:     overflow,
		BlockTimeout: cfg.Queue.BlockTimeout,
		Desktop:      opts.Bus.DesktopRoot(),
	})
	s.scheduler = eventqueue.NewScheduler(s.queue, mode, s.dispatcher)

	if cfg.Profiles.Watch && cfg.Profiles.Dir != "" {
		s.watcher = profiles.NewWatcher(cfg.Profiles.Dir, cfg.Profiles.Debounce)
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Init starts the scheduler, creates the fallback handler so that the
// baseline subscriptions are in place, and starts periodic reconciliation
// and the profile watcher when configured.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("session %s already running", s.id)
	}

	runCtx, cancel := context.WithCancel(ctx)

	if _, err := s.registry.Fallback(runCtx); err != nil {
		cancel()
		return fmt.Errorf("creating fallback handler: %w", err)
	}
	if err := s.scheduler.Start(runCtx); err != nil {
		cancel()
		s.registry.Shutdown()
		return fmt.Errorf("starting scheduler: %w", err)
	}

	if interval := s.cfg.Registry.ReconcileInterval; interval > 0 {
		s.wg.Add(1)
		go s.reconcileLoop(runCtx, interval)
	}

	if s.watcher != nil {
		changes := make(chan string, 16)
		if err := s.watcher.Start(runCtx, changes); err != nil {
			logging.Warn("Session", "Profile watcher not started: %v", err)
		} else {
			s.wg.Add(1)
			go s.profileLoop(runCtx, changes)
		}
	}

	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now()
	logging.Info("Session", "Session %s started (%s mode)", s.id, s.mode)
	return nil
}

// Shutdown stops the session. The order is: background loops and the
// profile watcher, then the queue and scheduler, then the registry (which
// releases every subscription), then the selector.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			logging.Warn("Session", "Stopping profile watcher: %v", err)
		}
	}
	s.wg.Wait()

	s.queue.Shutdown()
	s.scheduler.Stop()
	s.registry.Shutdown()
	s.selector.Reset()

	logging.Info("Session", "Session %s stopped", s.id)
}

// OnEvent implements api.Listener. Events are enqueued; rejected events
// are logged.
func (s *Session) OnEvent(ev api.Event) {
	if err := s.scheduler.Enqueue(ev); err != nil {
		logging.Debug("Session", "Event %s rejected: %v", ev.Type, err)
	}
}

// Submit runs fn on the consumer path.
func (s *Session) Submit(name string, fn eventqueue.TaskFunc) error {
	if !s.Running() {
		return ErrNotRunning
	}
	return s.scheduler.Submit(name, fn)
}

// Reconcile schedules a registry reconciliation.
func (s *Session) Reconcile() error {
	return s.Submit("reconcile", func(ctx context.Context) error {
		_, err := s.registry.Reconcile(ctx)
		return err
	})
}

// ReloadProfile schedules reapplying the named profile to every live
// handler whose application maps onto it.
func (s *Session) ReloadProfile(name string) error {
	return s.Submit("reload-profile:"+name, func(ctx context.Context) error {
		return s.applyProfile(name)
	})
}

func (s *Session) applyProfile(name string) error {
	var errs []error
	applied := 0
	for _, h := range s.registry.All() {
		c, ok := h.(handlers.Configurable)
		if !ok || c.AppName() == "" || profiles.SanitizeName(c.AppName()) != name {
			continue
		}
		p, err := s.profiles.Load(c.AppName())
		if err != nil {
			errs = append(errs, fmt.Errorf("loading profile %s: %w", name, err))
			continue
		}

		// Interests may change with the profile, so the subscription
		// references are dropped and taken again around the update.
		s.registry.DeregisterInterest(h)
		c.ApplyProfile(p)
		s.registry.RegisterInterest(h)

		if s.selector.Active() == h && s.bindings != nil {
			s.bindings.SetKeyBindings(h.App(), h.KeyBindings())
		}
		applied++
	}
	if applied > 0 {
		logging.Info("Session", "Reapplied profile %s to %d handlers", name, applied)
	}
	return errors.Join(errs...)
}

// WaitIdle blocks until every queued item has been processed.
func (s *Session) WaitIdle(ctx context.Context) error {
	return s.scheduler.WaitIdle(ctx)
}

// Running reports whether Init has completed and Shutdown has not.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// handlerEvicted runs after the registry evicted h and its application's
// nodes. Focus left on one of those nodes is dropped.
func (s *Session) handlerEvicted(h api.Handler) {
	s.selector.HandlerRemoved(h)
	if cur := s.tracker.Current(); !cur.IsNil() {
		if _, ok := s.nodes.Lookup(cur); !ok {
			s.tracker.Clear(cur)
		}
	}
}

func (s *Session) reconcileLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(); err != nil {
				logging.Debug("Session", "Periodic reconcile not scheduled: %v", err)
			}
		}
	}
}

func (s *Session) profileLoop(ctx context.Context, changes <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-changes:
			if err := s.ReloadProfile(name); err != nil {
				logging.Warn("Session", "Profile %s reload not scheduled: %v", name, err)
			}
		}
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	running, started := s.running, s.startedAt
	s.mu.Unlock()

	return Status{
		ID:        s.id,
		Mode:      s.mode,
		Running:   running,
		StartedAt: started,
		Queue:     s.queue.Stats(),
		Cache:     s.nodes.Stats(),
		Handlers:  s.registry.Len(),
		Active:    s.selector.Status(),
	}
}

// Nodes returns the session's node cache.
func (s *Session) Nodes() *nodecache.Cache { return s.nodes }

// Registry returns the session's handler registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Selector returns the active-handler selector.
func (s *Session) Selector() *focus.Selector { return s.selector }

// Focus returns the focus tracker.
func (s *Session) Focus() *focus.Tracker { return s.tracker }

// Metrics returns the dispatcher metrics.
func (s *Session) Metrics() *dispatcher.Metrics { return s.dispatcher.Metrics() }

// Presenter returns the presenter handed to handlers.
func (s *Session) Presenter() handlers.Presenter { return s.presenter }

// Profiles returns the profile store.
func (s *Session) Profiles() *profiles.Store { return s.profiles }
