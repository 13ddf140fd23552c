package handlers

import (
	"context"

	"axdispatch/internal/api"
)

// Default serves applications without a more specific handler.
type Default struct {
	*Base
}

// NewDefault creates the generic handler. It is also used as the fallback
// for events without an application.
func NewDefault(app api.Ref, appName string, env Env) *Default {
	return &Default{Base: newBase(app, appName, env, spec{kind: "default"})}
}

// GTK adds selection tracking on top of the default behaviour.
type GTK struct {
	*Base
}

// NewGTK creates a handler for GTK applications.
func NewGTK(app api.Ref, appName string, env Env) *GTK {
	return &GTK{Base: newBase(app, appName, env, spec{
		kind:      "gtk",
		interests: []string{api.EventSelectionChanged},
		settings:  api.Settings{"presentSelection": true},
	})}
}

func (h *GTK) Process(ctx context.Context, ev api.Event) error {
	if api.HasTypePrefix(ev.Type, api.EventSelectionChanged) {
		h.processed.Add(1)
		if !h.isFocused(ev.Source) {
			return nil
		}
		return h.present(ctx, ev, ev.Source, ChangeSelection)
	}
	return h.Base.Process(ctx, ev)
}

// Terminal presents text output of terminal widgets. Terminals churn their
// accessible children constantly, so it gets a larger retry budget.
type Terminal struct {
	*Base
}

// NewTerminal creates a handler for terminal emulators.
func NewTerminal(app api.Ref, appName string, env Env) *Terminal {
	return &Terminal{Base: newBase(app, appName, env, spec{
		kind:      "terminal",
		interests: []string{api.EventTextChanged, api.EventTextCaretMoved},
		bindings: []api.KeyBinding{
			{Keys: "KP_Insert+Up", Action: "review-previous-line"},
			{Keys: "KP_Insert+Down", Action: "review-next-line"},
		},
		settings:     api.Settings{"echoByWord": false, "speakIndent": true},
		extraRetries: 2,
	})}
}

func (h *Terminal) Process(ctx context.Context, ev api.Event) error {
	if api.HasTypePrefix(ev.Type, api.EventTextChanged) {
		h.processed.Add(1)
		if h.env.Nodes == nil {
			return nil
		}
		role, err := h.env.Nodes.Role(ctx, ev.Source)
		if err != nil {
			return api.NewTransientError(ev.Type, err)
		}
		if role != api.RoleTerminal {
			return nil
		}
		return h.present(ctx, ev, ev.Source, ChangeText)
	}
	if api.HasTypePrefix(ev.Type, api.EventTextCaretMoved) {
		h.processed.Add(1)
		return nil
	}
	return h.Base.Process(ctx, ev)
}

// Firefox handles web documents. Focus events from objects that are not
// showing are stale notifications from background tabs and never make it
// the active handler.
type Firefox struct {
	*Base
}

// NewFirefox creates a handler for Firefox.
func NewFirefox(app api.Ref, appName string, env Env) *Firefox {
	return &Firefox{Base: newBase(app, appName, env, spec{
		kind:      "firefox",
		interests: []string{api.EventTextCaretMoved},
		bindings:  []api.KeyBinding{{Keys: "KP_Insert+a", Action: "say-all"}},
		settings:  api.Settings{"layoutMode": true},
	})}
}

func (h *Firefox) IsActivatableEvent(ev api.Event) bool {
	if !api.IsFocusEvent(ev) || h.env.Nodes == nil {
		return true
	}
	showing, err := h.env.Nodes.HasState(context.Background(), ev.Source, api.StateShowing)
	return err == nil && showing
}

func (h *Firefox) Process(ctx context.Context, ev api.Event) error {
	if api.HasTypePrefix(ev.Type, api.EventTextCaretMoved) {
		h.processed.Add(1)
		if h.env.Nodes == nil {
			return nil
		}
		role, err := h.env.Nodes.Role(ctx, ev.Source)
		if err != nil {
			return api.NewTransientError(ev.Type, err)
		}
		if role == api.RoleDocumentWeb && h.isFocused(ev.Source) {
			return h.present(ctx, ev, ev.Source, ChangeText)
		}
		return nil
	}
	return h.Base.Process(ctx, ev)
}
