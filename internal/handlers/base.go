package handlers

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"axdispatch/internal/api"
	"axdispatch/internal/focus"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/profiles"
	"axdispatch/pkg/logging"
)

// DefaultMaxRetries is used when Env.DefaultMaxRetries is zero.
const DefaultMaxRetries = 2

// Presentation change kinds passed to Presenter.Render.
const (
	ChangeFocus     = "focus"
	ChangeWindow    = "window"
	ChangeName      = "name"
	ChangeState     = "state"
	ChangeText      = "text"
	ChangeSelection = "selection"
	ChangeDocument  = "document"
	ChangeCommand   = "command"
)

// Presenter turns a change on an object into output for the user.
type Presenter interface {
	Render(ctx context.Context, ref api.Ref, changeKind string) error
}

// ProfileSource loads per-application profiles.
type ProfileSource interface {
	Load(name string) (profiles.Profile, error)
}

// Env holds the collaborators shared by every handler.
type Env struct {
	Nodes     *nodecache.Cache
	Focus     *focus.Tracker
	Presenter Presenter
	Profiles  ProfileSource

	DefaultMaxRetries int
}

func (e Env) maxRetries() int {
	if e.DefaultMaxRetries > 0 {
		return e.DefaultMaxRetries
	}
	return DefaultMaxRetries
}

// Configurable is implemented by every handler in this package; the session
// uses it to reapply a profile after it changed on disk.
type Configurable interface {
	api.Handler
	AppName() string
	ApplyProfile(p profiles.Profile)
}

// baseInterests are the tags every handler listens to.
var baseInterests = []string{
	api.EventFocus,
	api.EventWindowActivate,
	api.EventWindowDeactivate,
	api.EventStateChanged,
	api.EventPropertyChange,
	api.EventChildrenChanged,
	api.EventDocumentLoadComplete,
	"keyboard:",
}

var baseBindings = []api.KeyBinding{
	{Keys: "KP_Insert+f", Action: "where-am-i"},
	{Keys: "KP_Insert+t", Action: "read-title"},
}

var baseSettings = api.Settings{
	"verbosity":     "verbose",
	"speakIndent":   false,
	"echoByWord":    true,
	"presentHidden": false,
}

// spec describes what a concrete handler adds on top of the base.
type spec struct {
	kind         string
	interests    []string
	bindings     []api.KeyBinding
	settings     api.Settings
	extraRetries int
}

// Base implements api.Handler with the behaviour shared by every handler:
// focus tracking, presentation of changes on the focused object and key
// binding dispatch. Concrete handlers embed it and override Process or
// IsActivatableEvent.
type Base struct {
	kind    string
	app     api.Ref
	appName string
	env     Env

	builtinInterests []string
	builtinBindings  []api.KeyBinding
	defaults         api.Settings
	baseRetries      int

	mu         sync.RWMutex
	interests  []string
	bindings   []api.KeyBinding
	settings   api.Settings
	maxRetries int
	active     bool

	processed atomic.Int64
}

func newBase(app api.Ref, appName string, env Env, s spec) *Base {
	b := &Base{
		kind:             s.kind,
		app:              app,
		appName:          appName,
		env:              env,
		builtinInterests: mergeTags(baseInterests, s.interests),
		builtinBindings:  mergeBindings(baseBindings, s.bindings),
		defaults:         mergeSettings(baseSettings, s.settings),
		baseRetries:      env.maxRetries() + s.extraRetries,
	}
	b.ApplyProfile(profiles.Profile{})

	if env.Profiles != nil && appName != "" {
		p, err := env.Profiles.Load(appName)
		if err != nil {
			logging.Warn("Handlers", "Ignoring profile for %s: %v", appName, err)
		} else if !p.IsZero() {
			b.ApplyProfile(p)
			logging.Debug("Handlers", "Applied profile %s to %s handler", p.Name, s.kind)
		}
	}
	return b
}

func (b *Base) Name() string { return b.kind }

func (b *Base) App() api.Ref { return b.app }

// AppName returns the application name the handler was created for.
func (b *Base) AppName() string { return b.appName }

// Processed returns the number of events handed to Process.
func (b *Base) Processed() int64 { return b.processed.Load() }

func (b *Base) Interests() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.interests)
}

func (b *Base) KeyBindings() []api.KeyBinding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.bindings)
}

func (b *Base) MaxRetries() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxRetries
}

// IsActivatableEvent accepts every event by default.
func (b *Base) IsActivatableEvent(api.Event) bool { return true }

func (b *Base) SaveSettings() api.Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.Clone()
}

func (b *Base) RestoreSettings(s api.Settings) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = s.Clone()
}

// Setting returns a single setting value.
func (b *Base) Setting(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings[key]
}

func (b *Base) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
}

func (b *Base) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
}

// IsActive reports whether the selector has activated this handler.
func (b *Base) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// ApplyProfile rebuilds interests, bindings, settings and retry budget
// from the built-in values overlaid with p.
func (b *Base) ApplyProfile(p profiles.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.interests = mergeTags(b.builtinInterests, p.Interests)
	b.bindings = mergeBindings(b.builtinBindings, p.KeyBindings)
	b.settings = mergeSettings(b.defaults, p.Settings)
	b.maxRetries = b.baseRetries
	if p.MaxRetries > 0 {
		b.maxRetries = p.MaxRetries
	}
}

// Process implements the shared behaviour.
func (b *Base) Process(ctx context.Context, ev api.Event) error {
	b.processed.Add(1)

	switch {
	case api.IsKeyboardEvent(ev):
		return b.handleKey(ctx, ev)

	case api.IsFocusEvent(ev):
		return b.handleFocus(ctx, ev)

	case api.HasTypePrefix(ev.Type, api.EventWindowActivate):
		return b.present(ctx, ev, ev.Source, ChangeWindow)

	case api.HasTypePrefix(ev.Type, api.EventPropertyChangeName),
		api.HasTypePrefix(ev.Type, api.EventPropertyChangeDescription):
		if b.isFocused(ev.Source) {
			return b.present(ctx, ev, ev.Source, ChangeName)
		}

	case api.HasTypePrefix(ev.Type, api.EventStateChanged):
		if b.isFocused(ev.Source) {
			return b.present(ctx, ev, ev.Source, ChangeState)
		}

	case api.HasTypePrefix(ev.Type, api.EventDocumentLoadComplete):
		return b.present(ctx, ev, ev.Source, ChangeDocument)
	}
	return nil
}

func (b *Base) handleFocus(ctx context.Context, ev api.Event) error {
	if b.env.Focus != nil {
		b.env.Focus.Set(ev.Source)
	}
	// Resolving the label up front makes a vanished source fail here,
	// before anything has been presented.
	if b.env.Nodes != nil {
		if _, err := b.env.Nodes.Label(ctx, ev.Source); err != nil {
			return api.NewTransientError(ev.Type, err)
		}
	}
	return b.present(ctx, ev, ev.Source, ChangeFocus)
}

func (b *Base) handleKey(ctx context.Context, ev api.Event) error {
	keys, _ := ev.AnyData.(string)
	if keys == "" {
		return nil
	}
	for _, kb := range b.KeyBindings() {
		if kb.Keys != keys {
			continue
		}
		target := api.NilRef
		if b.env.Focus != nil {
			target = b.env.Focus.Current()
		}
		if target.IsNil() {
			logging.Debug("Handlers", "Ignoring %s (%s), nothing focused", kb.Action, keys)
			return nil
		}
		return b.present(ctx, ev, target, ChangeCommand+":"+kb.Action)
	}
	return nil
}

func (b *Base) isFocused(ref api.Ref) bool {
	return b.env.Focus != nil && b.env.Focus.Current() == ref
}

// present renders a change. A node that disappears while rendering is a
// transient failure.
func (b *Base) present(ctx context.Context, ev api.Event, ref api.Ref, kind string) error {
	if b.env.Presenter == nil {
		return nil
	}
	err := b.env.Presenter.Render(ctx, ref, kind)
	if err != nil && api.IsNodeUnavailable(err) {
		return api.NewTransientError(ev.Type, err)
	}
	return err
}

func mergeTags(base, extra []string) []string {
	out := slices.Clone(base)
	for _, t := range extra {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// mergeBindings overlays extra on base; a binding for keys already bound
// replaces the earlier action.
func mergeBindings(base, extra []api.KeyBinding) []api.KeyBinding {
	out := slices.Clone(base)
	for _, kb := range extra {
		if i := slices.IndexFunc(out, func(x api.KeyBinding) bool { return x.Keys == kb.Keys }); i >= 0 {
			out[i] = kb
			continue
		}
		out = append(out, kb)
	}
	return out
}

func mergeSettings(base, extra api.Settings) api.Settings {
	out := make(api.Settings, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
