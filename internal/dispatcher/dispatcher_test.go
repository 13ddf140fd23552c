package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"axdispatch/internal/api"
	"axdispatch/internal/bus/memory"
	"axdispatch/internal/eventqueue"
	"axdispatch/internal/focus"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	geditApp    = api.Ref{Bus: ":1.70", Path: "/org/a11y/atspi/accessible/root"}
	geditFrame  = api.Ref{Bus: ":1.70", Path: "/frame"}
	geditButton = api.Ref{Bus: ":1.70", Path: "/button"}
	otherButton = api.Ref{Bus: ":1.70", Path: "/other"}
)

type processFunc func(ctx context.Context, ev api.Event) error

// scriptedHandler records every event it is given and delegates the result
// to its process func.
type scriptedHandler struct {
	name      string
	app       api.Ref
	interests []string
	retries   int
	process   processFunc

	mu     sync.Mutex
	events []api.Event
	active bool
}

func (h *scriptedHandler) Name() string                      { return h.name }
func (h *scriptedHandler) App() api.Ref                      { return h.app }
func (h *scriptedHandler) Interests() []string               { return h.interests }
func (h *scriptedHandler) IsActivatableEvent(api.Event) bool { return true }
func (h *scriptedHandler) MaxRetries() int                   { return h.retries }
func (h *scriptedHandler) KeyBindings() []api.KeyBinding     { return nil }
func (h *scriptedHandler) SaveSettings() api.Settings        { return api.Settings{} }
func (h *scriptedHandler) RestoreSettings(api.Settings)      {}

func (h *scriptedHandler) Activate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
}

func (h *scriptedHandler) Deactivate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
}

func (h *scriptedHandler) Process(ctx context.Context, ev api.Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	fn := h.process
	h.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, ev)
}

func (h *scriptedHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

// enqueueListener forwards bus events to the scheduler under test.
type enqueueListener struct {
	sched *eventqueue.Scheduler
}

func (l *enqueueListener) OnEvent(ev api.Event) {
	_ = l.sched.Enqueue(ev)
}

type fixture struct {
	bus      *memory.Bus
	cache    *nodecache.Cache
	reg      *registry.Registry
	selector *focus.Selector
	tracker  *focus.Tracker
	disp     *Dispatcher
	listener *enqueueListener

	mu      sync.Mutex
	built   []*scriptedHandler
	retries int
	process processFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memory.New(api.NilRef)
	require.NoError(t, b.AddApplication(geditApp, "gedit", "GTK"))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: geditFrame, Parent: geditApp, Name: "Untitled", Role: api.RoleFrame}))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: geditButton, Parent: geditFrame, Name: "OK", Role: api.RolePushButton}))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: otherButton, Parent: geditFrame, Name: "Cancel", Role: api.RolePushButton}))

	f := &fixture{
		bus:      b,
		cache:    nodecache.New(b),
		tracker:  focus.NewTracker(),
		listener: &enqueueListener{},
	}
	f.selector = focus.NewSelector(f.cache, nil)
	f.reg = registry.New(registry.Config{
		Source:   b,
		Nodes:    f.cache,
		Listener: f.listener,
		OnEvict:  f.selector.HandlerRemoved,
		Factory: registry.Factory{
			Apps:    []registry.Entry{{Name: "gedit", New: f.build("gedit")}},
			Default: f.build("fallback"),
		},
	})
	f.disp = New(Config{
		Nodes:     f.cache,
		Registry:  f.reg,
		Selector:  f.selector,
		Focus:     f.tracker,
		Desktop:   b.DesktopRoot(),
		RetryWait: -1,
	})
	return f
}

func (f *fixture) build(name string) registry.Constructor {
	return func(ctx context.Context, app api.Ref) (api.Handler, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		h := &scriptedHandler{
			name:      name,
			app:       app,
			interests: []string{"focus:", "window:", "keyboard:", api.EventStateChanged, api.EventPropertyChange, api.EventChildrenChanged},
			retries:   f.retries,
			process:   f.process,
		}
		f.built = append(f.built, h)
		return h, nil
	}
}

func (f *fixture) handlers() []*scriptedHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*scriptedHandler(nil), f.built...)
}

func deliver(ev api.Event) eventqueue.Item {
	return eventqueue.Item{Disposition: eventqueue.Deliver, Event: ev}
}

func focusOn(ref api.Ref) api.Event {
	return api.Event{Type: "focus:", Source: ref, Host: geditApp}
}

func TestDispatcher_RetryRestoresFocus(t *testing.T) {
	const maxRetries = 3
	f := newFixture(t)
	f.retries = maxRetries

	var mu sync.Mutex
	var seen []api.Ref
	f.process = func(ctx context.Context, ev api.Event) error {
		mu.Lock()
		seen = append(seen, f.tracker.Current())
		mu.Unlock()
		// A half-done attempt moves focus before failing.
		f.tracker.Set(otherButton)
		return api.NewTransientError(ev.Type, errors.New("object went away"))
	}

	f.tracker.Set(geditButton)
	f.disp.Process(context.Background(), deliver(focusOn(geditButton)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, maxRetries+1)
	for i, ref := range seen {
		assert.Equal(t, geditButton, ref, "attempt %d", i)
	}

	view, ok := f.disp.Metrics().EventType("focus:")
	require.True(t, ok)
	assert.Equal(t, int64(maxRetries), view.Retried)
	assert.Equal(t, int64(1), view.Exhausted)
	assert.Zero(t, view.Succeeded)
}

func TestDispatcher_RetryOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		retries       int
		results       []error
		panics        bool
		wantCalls     int
		wantSucceeded int64
		wantFailed    int64
		wantExhausted int64
	}{
		{
			name:          "succeeds first time",
			retries:       2,
			results:       []error{nil},
			wantCalls:     1,
			wantSucceeded: 1,
		},
		{
			name:          "transient then success",
			retries:       2,
			results:       []error{api.NewTransientError("focus:", errors.New("gone")), nil},
			wantCalls:     2,
			wantSucceeded: 1,
		},
		{
			name:       "permanent error is not retried",
			retries:    2,
			results:    []error{errors.New("broken")},
			wantCalls:  1,
			wantFailed: 1,
		},
		{
			name:       "node unavailable is not retried unless wrapped",
			retries:    2,
			results:    []error{api.NewNodeUnavailableError(geditButton, api.FieldName, errors.New("gone"))},
			wantCalls:  1,
			wantFailed: 1,
		},
		{
			name:          "zero retries",
			retries:       0,
			results:       []error{api.NewTransientError("focus:", errors.New("gone"))},
			wantCalls:     1,
			wantExhausted: 1,
		},
		{
			name:       "panic is recovered",
			retries:    2,
			panics:     true,
			wantCalls:  1,
			wantFailed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.retries = tt.retries
			calls := 0
			f.process = func(ctx context.Context, ev api.Event) error {
				calls++
				if tt.panics {
					panic("handler bug")
				}
				if calls > len(tt.results) {
					return tt.results[len(tt.results)-1]
				}
				return tt.results[calls-1]
			}

			f.disp.Process(context.Background(), deliver(focusOn(geditButton)))

			assert.Equal(t, tt.wantCalls, calls)
			s := f.disp.Metrics().Summary()
			assert.Equal(t, tt.wantSucceeded, s.TotalSucceeded)
			assert.Equal(t, tt.wantFailed, s.TotalFailed)
			assert.Equal(t, tt.wantExhausted, s.TotalExhausted)
			assert.Equal(t, int64(1), s.TotalDelivered)
		})
	}
}

func TestDispatcher_CancelledContextStopsRetries(t *testing.T) {
	f := newFixture(t)
	f.disp = New(Config{
		Nodes:     f.cache,
		Registry:  f.reg,
		Selector:  f.selector,
		Focus:     f.tracker,
		Desktop:   f.bus.DesktopRoot(),
		RetryWait: time.Hour,
	})
	f.retries = 5
	calls := 0
	f.process = func(ctx context.Context, ev api.Event) error {
		calls++
		return api.NewTransientError(ev.Type, errors.New("gone"))
	}

	// Resolve the handler up front; resolution itself honours the context.
	_, err := f.reg.GetHandler(context.Background(), geditApp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.disp.Process(ctx, deliver(focusOn(geditButton)))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher kept waiting on a cancelled context")
	}
	assert.Equal(t, 1, calls)
}

func TestDispatcher_DefunctEvictsWithoutDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.cache.GetOrCreate(geditButton)
	_, err := f.cache.Name(ctx, geditButton)
	require.NoError(t, err)

	for _, typ := range []string{api.EventStateChangedDefunct, api.EventPropertyChangeParent} {
		ev := api.Event{Type: typ, Source: geditButton, Detail1: 1, Host: geditApp}
		disp, keep := eventqueue.Classify(ev, f.bus.DesktopRoot())
		require.True(t, keep)
		require.Equal(t, eventqueue.CacheOnly, disp)

		f.disp.Process(ctx, eventqueue.Item{Disposition: disp, Event: ev})

		_, cached := f.cache.Lookup(geditButton)
		assert.False(t, cached, typ)
		after := f.cache.GetOrCreate(geditButton)
		assert.NotSame(t, before, after, typ)
		before = after
	}

	assert.Empty(t, f.handlers())
	assert.Equal(t, int64(2), f.disp.Metrics().Summary().TotalFiltered)
}

func TestDispatcher_LifecycleInvalidation(t *testing.T) {
	tests := []struct {
		name  string
		event string
		field api.Field
		read  func(ctx context.Context, c *nodecache.Cache) error
	}{
		{
			name:  "name change",
			event: api.EventPropertyChangeName,
			field: api.FieldName,
			read: func(ctx context.Context, c *nodecache.Cache) error {
				_, err := c.Name(ctx, geditButton)
				return err
			},
		},
		{
			name:  "description change",
			event: api.EventPropertyChangeDescription,
			field: api.FieldDescription,
			read: func(ctx context.Context, c *nodecache.Cache) error {
				_, err := c.Description(ctx, geditButton)
				return err
			},
		},
		{
			name:  "state change",
			event: api.EventStateChangedShowing,
			field: api.FieldStates,
			read: func(ctx context.Context, c *nodecache.Cache) error {
				_, err := c.States(ctx, geditButton)
				return err
			},
		},
		{
			name:  "children change",
			event: api.EventChildrenChangedAdd,
			field: api.FieldChildCount,
			read: func(ctx context.Context, c *nodecache.Cache) error {
				_, err := c.ChildCount(ctx, geditButton)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			// Resolving the handler reads application fields; keep that
			// out of the baseline.
			_, err := f.reg.GetHandler(ctx, geditApp)
			require.NoError(t, err)

			require.NoError(t, tt.read(ctx, f.cache))
			require.NoError(t, tt.read(ctx, f.cache))
			calls := f.bus.Calls(tt.field)

			f.disp.Process(ctx, deliver(api.Event{Type: tt.event, Source: geditButton, Host: geditApp}))

			require.NoError(t, tt.read(ctx, f.cache))
			assert.Equal(t, calls+1, f.bus.Calls(tt.field))
		})
	}
}

func TestDispatcher_InterestFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.disp.Process(ctx, deliver(api.Event{Type: api.EventDocumentLoadComplete, Source: geditFrame, Host: geditApp}))
	f.disp.Process(ctx, deliver(api.Event{Type: api.EventStateChangedFocused, Source: geditButton, Detail1: 1, Host: geditApp}))

	hs := f.handlers()
	require.Len(t, hs, 1)
	assert.Equal(t, []string{api.EventStateChangedFocused}, hs[0].received())

	s := f.disp.Metrics().Summary()
	assert.Equal(t, int64(1), s.TotalSkipped)
	assert.Equal(t, int64(1), s.TotalDelivered)
}

func TestDispatcher_HostFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.disp.Process(ctx, deliver(api.Event{Type: "focus:", Source: geditButton}))
	// The source is unknown: the fallback handler gets the event.
	f.disp.Process(ctx, deliver(api.Event{Type: "focus:", Source: api.Ref{Bus: ":1.99", Path: "/gone"}}))

	hs := f.handlers()
	require.Len(t, hs, 2)
	assert.Equal(t, "gedit", hs[0].name)
	assert.Equal(t, geditApp, hs[0].app)
	assert.Equal(t, "fallback", hs[1].name)
	assert.Len(t, hs[1].received(), 1)
}

func TestDispatcher_KeyboardGoesToActiveHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := api.Event{Type: api.EventKeyboardPress, AnyData: "KP_Insert+f"}

	f.disp.Process(ctx, deliver(key))
	assert.Empty(t, f.handlers())
	assert.Equal(t, int64(1), f.disp.Metrics().Summary().TotalSkipped)

	f.disp.Process(ctx, deliver(api.Event{Type: api.EventWindowActivate, Source: geditFrame, Host: geditApp}))
	require.NotNil(t, f.selector.Active())
	assert.Equal(t, focus.ReasonWindowActivate, f.selector.Reason())

	f.disp.Process(ctx, deliver(key))
	hs := f.handlers()
	require.Len(t, hs, 1)
	assert.Equal(t, []string{api.EventWindowActivate, api.EventKeyboardPress}, hs[0].received())
}

func TestDispatcher_Tasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ran := 0

	f.disp.Process(ctx, eventqueue.Item{Disposition: eventqueue.Task, TaskName: "ok", Task: func(context.Context) error {
		ran++
		return nil
	}})
	f.disp.Process(ctx, eventqueue.Item{Disposition: eventqueue.Task, TaskName: "bad", Task: func(context.Context) error {
		ran++
		return errors.New("boom")
	}})

	assert.Equal(t, 2, ran)
	s := f.disp.Metrics().Summary()
	assert.Equal(t, int64(2), s.TasksRun)
	assert.Equal(t, int64(1), s.TasksFailed)
	assert.Zero(t, s.TotalDispatched)
}

// An application leaves the desktop, the registry drops its handler, and a
// handler created after it comes back is a new one.
func TestDispatcher_DesktopRemovalReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched := eventqueue.NewScheduler(eventqueue.New(eventqueue.Options{Desktop: f.bus.DesktopRoot()}), eventqueue.Sync, f.disp)
	f.listener.sched = sched
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// Nothing is subscribed until a handler exists, so the first event is
	// enqueued directly.
	require.NoError(t, sched.Enqueue(api.Event{Type: api.EventWindowActivate, Source: geditFrame, Host: geditApp}))
	first := f.handlers()
	require.Len(t, first, 1)
	old := first[0]
	assert.Same(t, old, f.selector.Active())

	f.bus.RemoveApplication(geditApp)
	f.bus.Emit(api.Event{Type: api.EventChildrenChangedRemove, Source: f.bus.DesktopRoot()})

	_, ok := f.reg.Lookup(geditApp)
	assert.False(t, ok)
	assert.Nil(t, f.selector.Active())
	assert.Equal(t, focus.ReasonAppRemoved, f.selector.Reason())
	_, cached := f.cache.Lookup(geditFrame)
	assert.False(t, cached)

	require.NoError(t, f.bus.AddApplication(geditApp, "gedit", "GTK"))
	require.NoError(t, f.bus.AddNode(memory.NodeSpec{Ref: geditFrame, Parent: geditApp, Name: "Untitled", Role: api.RoleFrame}))
	f.bus.Emit(api.Event{Type: "focus:", Source: geditFrame})

	h, ok := f.reg.Lookup(geditApp)
	require.True(t, ok)
	assert.NotSame(t, old, h)
	assert.Same(t, h, f.selector.Active())
	assert.Equal(t, focus.ReasonFrameFocus, f.selector.Reason())
}
