package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"axdispatch/internal/api"
	"axdispatch/internal/eventqueue"
	"axdispatch/internal/focus"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"
	"axdispatch/pkg/logging"
)

// DefaultRetryWait is the pause between attempts of a transient failure.
const DefaultRetryWait = 10 * time.Millisecond

// Config wires the dispatcher to the rest of the session.
type Config struct {
	Nodes    *nodecache.Cache
	Registry *registry.Registry
	Selector *focus.Selector
	Focus    *focus.Tracker

	// Desktop is the desktop root; children removed from it trigger a
	// registry reconciliation.
	Desktop api.Ref

	// RetryWait is the fixed delay between retries. Zero uses
	// DefaultRetryWait, a negative value disables the wait.
	RetryWait time.Duration

	// Metrics may be nil, in which case a private instance is used.
	Metrics *Metrics
}

// Dispatcher is the queue consumer. It keeps the node cache in step with
// lifecycle events, routes each event to its application's handler, lets
// the selector react and delivers the event with bounded retries.
type Dispatcher struct {
	cfg     Config
	metrics *Metrics
}

var _ eventqueue.Consumer = (*Dispatcher)(nil)

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.RetryWait == 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	if cfg.Focus == nil {
		cfg.Focus = focus.NewTracker()
	}
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Dispatcher{cfg: cfg, metrics: m}
}

// Metrics returns the dispatcher's metrics.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Process implements eventqueue.Consumer.
func (d *Dispatcher) Process(ctx context.Context, item eventqueue.Item) {
	if item.Disposition == eventqueue.Task {
		d.runTask(ctx, item)
		return
	}

	ev := item.Event
	d.metrics.RecordDispatched(ev.Type)

	d.invalidate(ev)
	if item.Disposition == eventqueue.CacheOnly {
		d.metrics.RecordFiltered(ev.Type)
		return
	}

	if ev.Source == d.cfg.Desktop && api.HasTypePrefix(ev.Type, api.EventChildrenChangedRemove) {
		if removed, err := d.cfg.Registry.Reconcile(ctx); err != nil {
			logging.Warn("Dispatcher", "Reconcile after %s failed: %v", ev.Type, err)
		} else if removed > 0 {
			logging.Debug("Dispatcher", "Reconcile removed %d handlers", removed)
		}
	}

	h := d.route(ctx, ev)
	if h == nil {
		d.metrics.RecordSkipped(ev.Type)
		return
	}

	d.cfg.Selector.Evaluate(ctx, ev, h)

	if !api.WantsEvent(h, ev) {
		d.metrics.RecordSkipped(ev.Type)
		return
	}
	d.deliver(ctx, h, ev)
}

func (d *Dispatcher) runTask(ctx context.Context, item eventqueue.Item) {
	if item.Task == nil {
		return
	}
	err := item.Task(ctx)
	d.metrics.RecordTask(err != nil)
	if err != nil {
		logging.Warn("Dispatcher", "Task %s failed: %v", item.TaskName, err)
		return
	}
	logging.Debug("Dispatcher", "Task %s done", item.TaskName)
}

// invalidate applies the cache side effects of lifecycle events. It runs
// for delivered and cache-only events alike.
func (d *Dispatcher) invalidate(ev api.Event) {
	nodes := d.cfg.Nodes
	src := ev.Source

	switch {
	case api.HasTypePrefix(ev.Type, api.EventStateChangedDefunct):
		nodes.Evict(src)
	case api.HasTypePrefix(ev.Type, api.EventPropertyChangeParent):
		nodes.Evict(src)
	case api.HasTypePrefix(ev.Type, api.EventPropertyChangeName):
		nodes.Invalidate(src, api.FieldName)
	case api.HasTypePrefix(ev.Type, api.EventPropertyChangeDescription):
		nodes.Invalidate(src, api.FieldDescription)
	case api.HasTypePrefix(ev.Type, api.EventChildrenChanged):
		nodes.Invalidate(src, api.FieldChildCount)
	case api.HasTypePrefix(ev.Type, api.EventStateChanged+":"):
		nodes.Invalidate(src, api.FieldStates)
	}
}

// route picks the handler for ev. Keyboard events belong to the active
// handler. Everything else goes to the handler of the event's application;
// events whose application cannot be determined go to the fallback.
func (d *Dispatcher) route(ctx context.Context, ev api.Event) api.Handler {
	if api.IsKeyboardEvent(ev) {
		h := d.cfg.Selector.Active()
		if h == nil {
			logging.Debug("Dispatcher", "Dropping %s, no active handler", ev.Type)
		}
		return h
	}

	app := ev.Host
	if app.IsNil() {
		resolved, err := d.cfg.Nodes.Application(ctx, ev.Source)
		if err != nil {
			logging.Debug("Dispatcher", "Application of %s unavailable, using fallback: %v", ev.Source, err)
		} else {
			app = resolved
		}
	}
	if app == d.cfg.Desktop {
		app = api.NilRef
	}

	h, err := d.cfg.Registry.GetHandler(ctx, app)
	if err != nil {
		logging.Warn("Dispatcher", "No handler for %s from %s: %v", ev.Type, app, err)
		return nil
	}
	return h
}

// deliver calls h.Process, retrying transient failures up to
// h.MaxRetries() times. The focus tracker is put back to its value from
// before the first attempt ahead of every retry.
func (d *Dispatcher) deliver(ctx context.Context, h api.Handler, ev api.Event) {
	d.metrics.RecordDelivered(ev.Type)

	focusBefore := d.cfg.Focus.Current()
	maxRetries := h.MaxRetries()

	for attempt := 0; ; attempt++ {
		err := d.invoke(ctx, h, ev)
		if err == nil {
			d.metrics.RecordSucceeded(ev.Type)
			return
		}

		if !api.IsTransient(err) {
			d.metrics.RecordFailed(ev.Type)
			logging.Warn("Dispatcher", "Handler %s failed on %s: %v", h.Name(), ev, err)
			return
		}

		if attempt >= maxRetries {
			d.metrics.RecordExhausted(ev.Type, attempt+1)
			logging.Warn("Dispatcher", "Dropping %s for handler %s: %v", ev, h.Name(), err)
			return
		}

		d.metrics.RecordRetried(ev.Type)
		logging.Debug("Dispatcher", "Retrying %s (%d/%d): %v", ev.Type, attempt+1, maxRetries, err)

		if err := d.wait(ctx); err != nil {
			logging.Debug("Dispatcher", "Abandoning retries of %s: %v", ev.Type, err)
			return
		}
		d.restoreFocus(focusBefore)
	}
}

func (d *Dispatcher) restoreFocus(ref api.Ref) {
	if ref.IsNil() {
		d.cfg.Focus.Clear(api.NilRef)
		return
	}
	d.cfg.Focus.Set(ref)
}

// invoke runs h.Process, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, h api.Handler, ev api.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Dispatcher", fmt.Errorf("panic: %v", r),
				"Handler %s panicked on %s\n%s", h.Name(), ev.Type, debug.Stack())
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Process(ctx, ev)
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.cfg.RetryWait < 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.cfg.RetryWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
