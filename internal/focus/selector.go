package focus

import (
	"context"
	"sync"
	"time"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"
)

// Activation reasons.
const (
	ReasonWindowActivate = "window activate"
	ReasonFrameFocus     = "frame received focus"
	ReasonModalPanel     = "modal panel showing"
	ReasonObjectFocus    = "object received focus"
	ReasonAppRemoved     = "application removed"
	ReasonReset          = "reset"
)

// State names reported by Status.
const (
	StateNone   = "NONE"
	StateActive = "ACTIVE"
)

// BindingSink receives the key bindings of the active handler.
type BindingSink interface {
	SetKeyBindings(app api.Ref, bindings []api.KeyBinding)
}

// NodeReader is the slice of the node cache the selector reads.
type NodeReader interface {
	Role(ctx context.Context, ref api.Ref) (api.Role, error)
	States(ctx context.Context, ref api.Ref) (api.StateSet, error)
}

// Status is a snapshot of the selector for display.
type Status struct {
	State     string    `json:"state"`
	Handler   string    `json:"handler,omitempty"`
	App       api.Ref   `json:"app"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since"`
	Switches  int       `json:"switches"`
	SavedApps int       `json:"savedApps"`
}

// Selector decides which handler is active. It is a two state machine,
// NONE and ACTIVE(h), driven by object events.
//
// Each handler switch swaps settings: the outgoing handler's settings are
// saved under its application and reset to the factory snapshot, and the
// incoming handler gets its own saved settings back if it has any. The
// factory snapshot is taken from the first handler ever activated.
type Selector struct {
	nodes NodeReader
	sink  BindingSink

	mu       sync.Mutex
	current  api.Handler
	reason   string
	since    time.Time
	switches int

	factory     api.Settings
	haveFactory bool
	saved       map[api.Ref]api.Settings
}

// NewSelector creates a selector in the NONE state. sink may be nil.
func NewSelector(nodes NodeReader, sink BindingSink) *Selector {
	return &Selector{
		nodes: nodes,
		sink:  sink,
		saved: make(map[api.Ref]api.Settings),
	}
}

// Active returns the active handler, or nil in the NONE state.
func (s *Selector) Active() api.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reason returns why the current state was entered.
func (s *Selector) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Status returns a snapshot for display.
func (s *Selector) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     StateNone,
		Reason:    s.reason,
		Since:     s.since,
		Switches:  s.switches,
		SavedApps: len(s.saved),
	}
	if s.current != nil {
		st.State = StateActive
		st.Handler = s.current.Name()
		st.App = s.current.App()
	}
	return st
}

// Evaluate checks ev against the activation triggers, in order, for the
// candidate handler the event was routed to. It reports whether the active
// handler changed.
//
//  1. window:activate
//  2. a focus event on a frame
//  3. a modal panel becoming visible
//  4. a focus event from another application whose handler accepts it
func (s *Selector) Evaluate(ctx context.Context, ev api.Event, candidate api.Handler) bool {
	if candidate == nil || api.IsKeyboardEvent(ev) {
		return false
	}

	switch {
	case api.HasTypePrefix(ev.Type, api.EventWindowActivate):
		return s.activate(candidate, ReasonWindowActivate)

	case api.IsFocusEvent(ev) && s.roleIs(ctx, ev.Source, api.RoleFrame):
		return s.activate(candidate, ReasonFrameFocus)

	case api.HasTypePrefix(ev.Type, api.EventStateChangedShowing) &&
		s.roleIs(ctx, ev.Source, api.RolePanel) && s.hasState(ctx, ev.Source, api.StateModal):
		return s.activate(candidate, ReasonModalPanel)

	case api.IsFocusEvent(ev) && !s.isActiveApp(candidate.App()) && candidate.IsActivatableEvent(ev):
		return s.activate(candidate, ReasonObjectFocus)
	}
	return false
}

func (s *Selector) roleIs(ctx context.Context, ref api.Ref, role api.Role) bool {
	got, err := s.nodes.Role(ctx, ref)
	if err != nil {
		logging.Debug("Selector", "Role of %s unavailable: %v", ref, err)
		return false
	}
	return got == role
}

func (s *Selector) hasState(ctx context.Context, ref api.Ref, st api.State) bool {
	states, err := s.nodes.States(ctx, ref)
	if err != nil {
		logging.Debug("Selector", "States of %s unavailable: %v", ref, err)
		return false
	}
	return states.Contains(st)
}

func (s *Selector) isActiveApp(app api.Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.App() == app
}

// Activate makes h the active handler. Re-activating the current handler is
// a no-op.
func (s *Selector) Activate(h api.Handler, reason string) bool {
	if h == nil {
		return false
	}
	return s.activate(h, reason)
}

func (s *Selector) activate(h api.Handler, reason string) bool {
	s.mu.Lock()

	if s.current == h {
		s.mu.Unlock()
		return false
	}

	if old := s.current; old != nil {
		s.saved[old.App()] = old.SaveSettings()
		old.RestoreSettings(s.factory.Clone())
		old.Deactivate()
	}

	if !s.haveFactory {
		s.factory = h.SaveSettings().Clone()
		s.haveFactory = true
	}
	if saved, ok := s.saved[h.App()]; ok {
		h.RestoreSettings(saved)
	}
	h.Activate()

	s.current = h
	s.reason = reason
	s.since = time.Now()
	s.switches++
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.SetKeyBindings(h.App(), h.KeyBindings())
	}
	logging.Info("Selector", "Active handler is now %s for %s (%s)", h.Name(), h.App(), reason)
	return true
}

// HandlerRemoved is called when h is evicted from the registry. If h was
// active the selector falls back to NONE. The saved settings of its
// application are forgotten either way.
func (s *Selector) HandlerRemoved(h api.Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	delete(s.saved, h.App())
	if s.current != h {
		s.mu.Unlock()
		return
	}
	h.Deactivate()
	s.current = nil
	s.reason = ReasonAppRemoved
	s.since = time.Now()
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.SetKeyBindings(api.NilRef, nil)
	}
	logging.Info("Selector", "Active handler %s for %s removed, no handler active", h.Name(), h.App())
}

// Reset returns to NONE and forgets all settings snapshots.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Deactivate()
	}
	s.current = nil
	s.reason = ReasonReset
	s.since = time.Now()
	s.factory = nil
	s.haveFactory = false
	s.saved = make(map[api.Ref]api.Settings)
}
