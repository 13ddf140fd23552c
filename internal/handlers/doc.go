// Package handlers contains the per-application handlers.
//
// Every handler embeds Base, which tracks focus, presents changes on the
// focused object through a Presenter and dispatches key bindings. Concrete
// handlers add interests and override Process for toolkit specific events.
//
// Handlers pick up their per-application profile from a ProfileSource when
// they are constructed; ApplyProfile reapplies one later.
package handlers
