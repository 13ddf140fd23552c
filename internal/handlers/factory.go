package handlers

import (
	"context"

	"axdispatch/internal/api"
	"axdispatch/internal/registry"
)

type newFunc func(app api.Ref, appName string, env Env) Configurable

// NewFactory builds the resolution table for the handlers in this package.
//
// Applications:
//   - "firefox" (and "Firefox Developer Edition" etc.) -> Firefox
//   - "gnome-terminal*", "xfce4-terminal" -> Terminal
//
// Toolkits:
//   - "GTK" -> GTK
//
// Anything else gets Default.
func NewFactory(env Env) registry.Factory {
	return registry.Factory{
		Apps: []registry.Entry{
			{Name: "firefox", Match: registry.HasPrefix("firefox"), New: constructor(env, toFirefox)},
			{Name: "gnome-terminal", Match: registry.HasPrefix("gnome-terminal"), New: constructor(env, toTerminal)},
			{Name: "xfce4-terminal", New: constructor(env, toTerminal)},
		},
		Toolkits: []registry.Entry{
			{Name: "GTK", New: constructor(env, toGTK)},
		},
		Default: constructor(env, toDefault),
	}
}

func toDefault(app api.Ref, name string, env Env) Configurable  { return NewDefault(app, name, env) }
func toGTK(app api.Ref, name string, env Env) Configurable      { return NewGTK(app, name, env) }
func toTerminal(app api.Ref, name string, env Env) Configurable { return NewTerminal(app, name, env) }
func toFirefox(app api.Ref, name string, env Env) Configurable  { return NewFirefox(app, name, env) }

// constructor adapts fn to a registry.Constructor. The application name is
// read through the node cache so that profiles can be looked up by it; the
// fallback (nil app) has no name.
func constructor(env Env, fn newFunc) registry.Constructor {
	return func(ctx context.Context, app api.Ref) (api.Handler, error) {
		var name string
		if !app.IsNil() && env.Nodes != nil {
			n, err := env.Nodes.Name(ctx, app)
			if err != nil {
				return nil, err
			}
			name = n
		}
		return fn(app, name, env), nil
	}
}
