package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"
)

// AppResolver is the slice of the node cache the registry needs.
type AppResolver interface {
	Name(ctx context.Context, ref api.Ref) (string, error)
	Toolkit(ctx context.Context, app api.Ref) (string, error)
	EvictApplication(app api.Ref) int
}

// Config wires a Registry.
type Config struct {
	Source  api.EventSource
	Nodes   AppResolver
	Factory Factory

	// Listener receives every event of every subscribed tag.
	Listener api.Listener

	// ListenAll subscribes the top-level tags once instead of reference
	// counting individual handler interests.
	ListenAll bool

	// OnEvict is called after a handler has been removed.
	OnEvict func(h api.Handler)
}

// Info describes a registered handler for display.
type Info struct {
	App       api.Ref  `json:"app"`
	Handler   string   `json:"handler"`
	Interests []string `json:"interests"`
	Fallback  bool     `json:"fallback,omitempty"`
}

// Registry maps applications to their handlers and keeps the Bus
// subscriptions in line with the union of all handler interests.
//
// Every mutation happens on the dispatcher's consumer path. The mutex only
// protects readers such as the console.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	handlers map[api.Ref]api.Handler
	fallback api.Handler

	// counts holds one reference count per subscribed tag
	counts map[string]int

	// registered tracks which handlers currently hold interest references
	registered map[api.Handler][]string

	listeningAll bool
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:        cfg,
		handlers:   make(map[api.Ref]api.Handler),
		counts:     make(map[string]int),
		registered: make(map[api.Handler][]string),
	}
}

// GetHandler returns the handler for app, constructing and registering it on
// first use. A nil app yields the fallback default handler.
//
// Resolution walks the Factory: application entries matched on the
// application name, toolkit entries matched on the toolkit name, then the
// default constructor. A constructor that fails or panics is logged and
// resolution falls through to the next candidate.
func (r *Registry) GetHandler(ctx context.Context, app api.Ref) (api.Handler, error) {
	if app.IsNil() {
		return r.Fallback(ctx)
	}

	r.mu.Lock()
	h, ok := r.handlers[app]
	r.mu.Unlock()
	if ok {
		return h, nil
	}

	h, err := r.resolve(ctx, app)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.handlers[app]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.handlers[app] = h
	r.mu.Unlock()

	r.RegisterInterest(h)
	logging.Info("Registry", "Created %s handler for %s", h.Name(), app)
	return h, nil
}

// Fallback returns the default handler used when the application of an
// event cannot be determined.
func (r *Registry) Fallback(ctx context.Context) (api.Handler, error) {
	r.mu.Lock()
	h := r.fallback
	r.mu.Unlock()
	if h != nil {
		return h, nil
	}

	if r.cfg.Factory.Default == nil {
		return nil, api.ErrNoHandler
	}
	h, err := r.construct(ctx, api.NilRef, "default", r.cfg.Factory.Default)
	if err != nil {
		logging.Error("Registry", err, "Failed to construct fallback handler")
		return nil, fmt.Errorf("fallback: %w", api.ErrNoHandler)
	}

	r.mu.Lock()
	if r.fallback != nil {
		h = r.fallback
		r.mu.Unlock()
		return h, nil
	}
	r.fallback = h
	r.mu.Unlock()

	r.RegisterInterest(h)
	return h, nil
}

func (r *Registry) resolve(ctx context.Context, app api.Ref) (api.Handler, error) {
	f := r.cfg.Factory

	name, nameErr := r.cfg.Nodes.Name(ctx, app)
	if nameErr != nil {
		logging.Debug("Registry", "Name of %s unavailable, skipping application entries: %v", app, nameErr)
	}

	for _, e := range f.Apps {
		if nameErr != nil || !e.matches(name) {
			continue
		}
		h, err := r.construct(ctx, app, "application "+e.Name, e.New)
		if err == nil {
			return h, nil
		}
		logging.Warn("Registry", "%v, trying next candidate", err)
	}

	if len(f.Toolkits) > 0 {
		toolkit, err := r.cfg.Nodes.Toolkit(ctx, app)
		if err != nil {
			logging.Debug("Registry", "Toolkit of %s unavailable: %v", app, err)
		}
		for _, e := range f.Toolkits {
			if err != nil || !e.matches(toolkit) {
				continue
			}
			h, cerr := r.construct(ctx, app, "toolkit "+e.Name, e.New)
			if cerr == nil {
				return h, nil
			}
			logging.Warn("Registry", "%v, trying next candidate", cerr)
		}
	}

	if f.Default != nil {
		h, err := r.construct(ctx, app, "default", f.Default)
		if err == nil {
			return h, nil
		}
		logging.Warn("Registry", "%v", err)
	}

	return nil, fmt.Errorf("%s (%s): %w", app, name, api.ErrNoHandler)
}

// construct runs ctor, converting errors and panics into a
// *api.HandlerConstructionError.
func (r *Registry) construct(ctx context.Context, app api.Ref, step string, ctor Constructor) (h api.Handler, err error) {
	if ctor == nil {
		return nil, &api.HandlerConstructionError{App: app, Step: step, Err: errors.New("no constructor")}
	}
	defer func() {
		if rec := recover(); rec != nil {
			h = nil
			err = &api.HandlerConstructionError{App: app, Step: step, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	h, err = ctor(ctx, app)
	if err == nil && h == nil {
		err = errors.New("constructor returned no handler")
	}
	if err != nil {
		return nil, &api.HandlerConstructionError{App: app, Step: step, Err: err}
	}
	return h, nil
}

// Lookup returns the registered handler for app without constructing one.
func (r *Registry) Lookup(app api.Ref) (api.Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[app]
	return h, ok
}

// Len returns the number of per-application handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// All returns every live handler including the fallback.
func (r *Registry) All() []api.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.Handler, 0, len(r.handlers)+1)
	for _, h := range r.handlers {
		out = append(out, h)
	}
	if r.fallback != nil {
		out = append(out, r.fallback)
	}
	return out
}

// Handlers describes every live handler, sorted by application.
func (r *Registry) Handlers() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.handlers)+1)
	for app, h := range r.handlers {
		out = append(out, Info{App: app, Handler: h.Name(), Interests: slices.Clone(r.registered[h])})
	}
	slices.SortFunc(out, func(a, b Info) int {
		return strings.Compare(a.App.String(), b.App.String())
	})
	if r.fallback != nil {
		out = append(out, Info{Handler: r.fallback.Name(), Interests: slices.Clone(r.registered[r.fallback]), Fallback: true})
	}
	return out
}

// ListenerCount returns the reference count of tag.
func (r *Registry) ListenerCount(tag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[tag]
}

// Subscriptions returns a copy of the per-tag reference counts.
func (r *Registry) Subscriptions() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for tag, n := range r.counts {
		out[tag] = n
	}
	return out
}

// RegisterInterest takes one reference on each of h's interest tags,
// subscribing on the Bus for tags that go from zero to one. Registering a
// handler twice has no effect.
func (r *Registry) RegisterInterest(h api.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registered[h]; ok {
		return
	}
	tags := uniqueTags(h.Interests())
	r.registered[h] = tags

	if r.cfg.ListenAll {
		r.listenAllLocked()
		return
	}

	for _, tag := range tags {
		r.counts[tag]++
		if r.counts[tag] != 1 {
			continue
		}
		if err := r.cfg.Source.Subscribe(tag, r.cfg.Listener); err != nil {
			logging.Error("Registry", err, "Failed to subscribe to %s", tag)
			continue
		}
		logging.Debug("Registry", "Subscribed to %s", tag)
	}
}

// DeregisterInterest releases the references taken by RegisterInterest,
// unsubscribing tags that drop to zero. Deregistering a handler that holds
// no references has no effect.
func (r *Registry) DeregisterInterest(h api.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterLocked(h)
}

func (r *Registry) deregisterLocked(h api.Handler) {
	tags, ok := r.registered[h]
	if !ok {
		return
	}
	delete(r.registered, h)

	if r.cfg.ListenAll {
		return
	}

	for _, tag := range tags {
		r.counts[tag]--
		if r.counts[tag] > 0 {
			continue
		}
		delete(r.counts, tag)
		if err := r.cfg.Source.Unsubscribe(tag, r.cfg.Listener); err != nil {
			logging.Error("Registry", err, "Failed to unsubscribe from %s", tag)
			continue
		}
		logging.Debug("Registry", "Unsubscribed from %s", tag)
	}
}

func (r *Registry) listenAllLocked() {
	if r.listeningAll {
		return
	}
	for _, tag := range api.TopLevelTags {
		if err := r.cfg.Source.Subscribe(tag, r.cfg.Listener); err != nil {
			logging.Error("Registry", err, "Failed to subscribe to %s", tag)
		}
	}
	r.listeningAll = true
	logging.Debug("Registry", "Listening to all top-level event tags")
}

// Reconcile drops the handlers of applications that are no longer on the
// Bus. Each evicted handler loses its interest references, its
// application's nodes are evicted from the cache and OnEvict is called. It
// returns the number of handlers removed.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	apps, err := r.cfg.Source.Applications(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing applications: %w", err)
	}
	live := make(map[api.Ref]bool, len(apps))
	for _, app := range apps {
		live[app] = true
	}

	r.mu.Lock()
	var gone []api.Handler
	var goneApps []api.Ref
	for app, h := range r.handlers {
		if live[app] {
			continue
		}
		delete(r.handlers, app)
		r.deregisterLocked(h)
		gone = append(gone, h)
		goneApps = append(goneApps, app)
	}
	r.mu.Unlock()

	for i, h := range gone {
		evicted := r.cfg.Nodes.EvictApplication(goneApps[i])
		logging.Info("Registry", "Removed %s handler for vanished application %s (%d nodes evicted)",
			h.Name(), goneApps[i], evicted)
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(h)
		}
	}
	return len(gone), nil
}

// Shutdown deregisters every handler and drops all subscriptions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	handlers := make([]api.Handler, 0, len(r.handlers)+1)
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	if r.fallback != nil {
		handlers = append(handlers, r.fallback)
	}
	for _, h := range handlers {
		r.deregisterLocked(h)
	}
	if r.listeningAll {
		for _, tag := range api.TopLevelTags {
			if err := r.cfg.Source.Unsubscribe(tag, r.cfg.Listener); err != nil {
				logging.Error("Registry", err, "Failed to unsubscribe from %s", tag)
			}
		}
		r.listeningAll = false
	}
	r.handlers = make(map[api.Ref]api.Handler)
	r.fallback = nil
	r.mu.Unlock()

	logging.Info("Registry", "Shut down, released %d handlers", len(handlers))
}

func uniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
