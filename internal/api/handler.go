package api

import "context"

// Handler is the per-application event processing unit. Exactly one Handler
// exists per registered application.
//
// Handlers are only ever called from the dispatcher's consumer path, so
// implementations do not need to guard their own state against concurrent
// Process calls.
type Handler interface {
	// Name identifies the handler kind for logs ("default", "gtk", ...).
	Name() string

	// App is the application this handler serves. The fallback handler
	// returns the nil ref.
	App() Ref

	// Interests lists the event-type tags this handler wants delivered.
	Interests() []string

	// IsActivatableEvent decides whether ev may make this handler the
	// active one when it is not already.
	IsActivatableEvent(ev Event) bool

	// MaxRetries bounds how often the dispatcher retries Process after a
	// TransientDispatchError.
	MaxRetries() int

	// KeyBindings returns the bindings to install while the handler is
	// active.
	KeyBindings() []KeyBinding

	// Process handles a single event.
	Process(ctx context.Context, ev Event) error

	// SaveSettings snapshots the handler's overridable settings.
	SaveSettings() Settings

	// RestoreSettings reinstates a snapshot taken by SaveSettings.
	RestoreSettings(s Settings)

	// Activate and Deactivate are called by the active-handler selector.
	Activate()
	Deactivate()
}

// WantsEvent reports whether ev matches one of h's interests.
func WantsEvent(h Handler, ev Event) bool {
	for _, tag := range h.Interests() {
		if MatchesTag(tag, ev.Type) {
			return true
		}
	}
	return false
}
