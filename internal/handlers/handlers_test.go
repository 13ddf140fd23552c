package handlers

import (
	"context"
	"errors"
	"testing"

	"axdispatch/internal/api"
	"axdispatch/internal/bus/memory"
	"axdispatch/internal/focus"
	"axdispatch/internal/nodecache"
	"axdispatch/internal/profiles"
	"axdispatch/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	geditApp    = api.Ref{Bus: ":1.60", Path: "/org/a11y/atspi/accessible/root"}
	geditFrame  = api.Ref{Bus: ":1.60", Path: "/frame"}
	geditButton = api.Ref{Bus: ":1.60", Path: "/button"}
	geditLabel  = api.Ref{Bus: ":1.60", Path: "/label"}

	termApp    = api.Ref{Bus: ":1.61", Path: "/org/a11y/atspi/accessible/root"}
	termWidget = api.Ref{Bus: ":1.61", Path: "/vte"}

	ffApp    = api.Ref{Bus: ":1.62", Path: "/org/a11y/atspi/accessible/root"}
	ffDoc    = api.Ref{Bus: ":1.62", Path: "/doc"}
	ffHidden = api.Ref{Bus: ":1.62", Path: "/hidden"}
)

type stubProfiles map[string]profiles.Profile

func (s stubProfiles) Load(name string) (profiles.Profile, error) {
	if p, ok := s[name]; ok {
		p.Name = name
		return p, nil
	}
	return profiles.Profile{Name: name}, nil
}

type nopListener struct{}

func (nopListener) OnEvent(api.Event) {}

type failingProfiles struct{}

func (failingProfiles) Load(string) (profiles.Profile, error) {
	return profiles.Profile{}, errors.New("bad yaml")
}

type fixture struct {
	bus       *memory.Bus
	env       Env
	presenter *LogPresenter
}

func newFixture(t *testing.T, src ProfileSource) *fixture {
	t.Helper()
	b := memory.New(api.NilRef)
	require.NoError(t, b.AddApplication(geditApp, "gedit", "GTK"))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: geditFrame, Parent: geditApp, Name: "Untitled", Role: api.RoleFrame}))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: geditLabel, Parent: geditFrame, Name: "Save as", Role: api.RoleLabel}))
	require.NoError(t, b.AddNode(memory.NodeSpec{
		Ref:       geditButton,
		Parent:    geditFrame,
		Name:      "btn",
		Role:      api.RolePushButton,
		Relations: []api.Relation{{Type: api.RelationLabelledBy, Targets: []api.Ref{geditLabel}}},
	}))
	require.NoError(t, b.AddApplication(termApp, "gnome-terminal-server", "GTK"))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: termWidget, Parent: termApp, Name: "Terminal", Role: api.RoleTerminal}))
	require.NoError(t, b.AddApplication(ffApp, "Firefox", "Gecko"))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: ffDoc, Parent: ffApp, Name: "Example", Role: api.RoleDocumentWeb, States: []api.State{api.StateShowing}}))
	require.NoError(t, b.AddNode(memory.NodeSpec{Ref: ffHidden, Parent: ffApp, Name: "Tab", Role: api.RoleDocumentWeb}))

	cache := nodecache.New(b)
	p := NewLogPresenter(cache, 0)
	return &fixture{
		bus:       b,
		presenter: p,
		env: Env{
			Nodes:     cache,
			Focus:     focus.NewTracker(),
			Presenter: p,
			Profiles:  src,
		},
	}
}

func kinds(ps []Presentation) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Kind)
	}
	return out
}

func TestFactory_Resolution(t *testing.T) {
	f := newFixture(t, nil)
	reg := registry.New(registry.Config{
		Source:   f.bus,
		Nodes:    f.env.Nodes,
		Factory:  NewFactory(f.env),
		Listener: nopListener{},
	})
	ctx := context.Background()

	tests := []struct {
		app  api.Ref
		want string
	}{
		{geditApp, "gtk"},
		{termApp, "terminal"},
		{ffApp, "firefox"},
		{api.NilRef, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h, err := reg.GetHandler(ctx, tt.app)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Name())
			assert.Equal(t, tt.app, h.App())
			_, ok := h.(Configurable)
			assert.True(t, ok)
		})
	}
}

func TestBase_FocusPresentsLabel(t *testing.T) {
	f := newFixture(t, nil)
	h := NewGTK(geditApp, "gedit", f.env)

	err := h.Process(context.Background(), api.Event{Type: "focus:", Source: geditButton})
	require.NoError(t, err)

	assert.Equal(t, geditButton, f.env.Focus.Current())
	history := f.presenter.History()
	require.Len(t, history, 1)
	assert.Equal(t, ChangeFocus, history[0].Kind)
	assert.Equal(t, "Save as", history[0].Label)
	assert.Equal(t, api.RolePushButton, history[0].Role)
	assert.Equal(t, int64(1), h.Processed())
}

func TestBase_FocusOnVanishedNodeIsTransient(t *testing.T) {
	f := newFixture(t, nil)
	h := NewDefault(geditApp, "gedit", f.env)

	f.bus.FailNext(geditButton, api.FieldRelations, 1, nil)
	err := h.Process(context.Background(), api.Event{Type: "focus:", Source: geditButton})
	require.Error(t, err)
	assert.True(t, api.IsTransient(err))
	assert.True(t, api.IsNodeUnavailable(err))
	assert.Zero(t, f.presenter.Count())

	// The retry succeeds once the bus answers again.
	require.NoError(t, h.Process(context.Background(), api.Event{Type: "focus:", Source: geditButton}))
	assert.Equal(t, 1, f.presenter.Count())
}

func TestBase_ChangesOnlyPresentedForFocus(t *testing.T) {
	f := newFixture(t, nil)
	h := NewDefault(geditApp, "gedit", f.env)
	ctx := context.Background()

	events := []api.Event{
		{Type: api.EventPropertyChangeName, Source: geditButton},
		{Type: api.EventStateChangedShowing, Source: geditButton, Detail1: 1},
		{Type: api.EventStateChangedFocused, Source: geditButton, Detail1: 1},
		{Type: api.EventPropertyChangeName, Source: geditButton},
		{Type: api.EventPropertyChangeDescription, Source: geditFrame},
		{Type: api.EventStateChangedShowing, Source: geditButton, Detail1: 0},
		{Type: api.EventWindowActivate, Source: geditFrame},
		{Type: api.EventDocumentLoadComplete, Source: geditFrame},
		{Type: api.EventChildrenChangedAdd, Source: geditFrame},
	}
	for _, ev := range events {
		require.NoError(t, h.Process(ctx, ev), ev.Type)
	}

	assert.Equal(t, []string{ChangeFocus, ChangeName, ChangeState, ChangeWindow, ChangeDocument}, kinds(f.presenter.History()))
}

func TestBase_KeyBindings(t *testing.T) {
	f := newFixture(t, nil)
	h := NewDefault(geditApp, "gedit", f.env)
	ctx := context.Background()

	// Nothing focused yet: the binding is ignored.
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventKeyboardPress, AnyData: "KP_Insert+f"}))
	assert.Zero(t, f.presenter.Count())

	f.env.Focus.Set(geditFrame)
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventKeyboardPress, AnyData: "KP_Insert+f"}))
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventKeyboardPress, AnyData: "x"}))
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventKeyboardPress, AnyData: 42}))

	assert.Equal(t, []string{"command:where-am-i"}, kinds(f.presenter.History()))
}

func TestBase_ApplyProfile(t *testing.T) {
	src := stubProfiles{
		"gedit": {
			KeyBindings: []api.KeyBinding{
				{Keys: "KP_Insert+f", Action: "read-line"},
				{Keys: "KP_Insert+s", Action: "spell"},
			},
			Settings:   api.Settings{"verbosity": "brief"},
			MaxRetries: 7,
			Interests:  []string{"object:text-changed", "focus:"},
		},
	}
	f := newFixture(t, src)
	h := NewGTK(geditApp, "gedit", f.env)

	assert.Equal(t, 7, h.MaxRetries())
	assert.Equal(t, "brief", h.Setting("verbosity"))
	assert.Equal(t, true, h.Setting("presentSelection"))
	assert.Contains(t, h.Interests(), "object:text-changed")
	assert.Contains(t, h.Interests(), api.EventSelectionChanged)

	focusTags := 0
	for _, tag := range h.Interests() {
		if tag == "focus:" {
			focusTags++
		}
	}
	assert.Equal(t, 1, focusTags)

	bindings := h.KeyBindings()
	assert.Contains(t, bindings, api.KeyBinding{Keys: "KP_Insert+f", Action: "read-line"})
	assert.Contains(t, bindings, api.KeyBinding{Keys: "KP_Insert+s", Action: "spell"})
	assert.NotContains(t, bindings, api.KeyBinding{Keys: "KP_Insert+f", Action: "where-am-i"})

	// Reapplying an empty profile goes back to the built-in values.
	h.ApplyProfile(profiles.Profile{})
	assert.Equal(t, DefaultMaxRetries, h.MaxRetries())
	assert.Equal(t, "verbose", h.Setting("verbosity"))
	assert.NotContains(t, h.Interests(), "object:text-changed")
}

func TestBase_BrokenProfileIgnored(t *testing.T) {
	f := newFixture(t, failingProfiles{})
	h := NewDefault(geditApp, "gedit", f.env)
	assert.Equal(t, DefaultMaxRetries, h.MaxRetries())
}

func TestBase_SettingsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	h := NewDefault(geditApp, "gedit", f.env)

	saved := h.SaveSettings()
	saved["verbosity"] = "brief"
	assert.Equal(t, "verbose", h.Setting("verbosity"))

	h.RestoreSettings(saved)
	assert.Equal(t, "brief", h.Setting("verbosity"))

	h.RestoreSettings(nil)
	assert.Equal(t, "brief", h.Setting("verbosity"))

	assert.False(t, h.IsActive())
	h.Activate()
	assert.True(t, h.IsActive())
	h.Deactivate()
	assert.False(t, h.IsActive())
}

func TestGTK_Selection(t *testing.T) {
	f := newFixture(t, nil)
	h := NewGTK(geditApp, "gedit", f.env)
	ctx := context.Background()

	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventSelectionChanged, Source: geditFrame}))
	assert.Zero(t, f.presenter.Count())

	f.env.Focus.Set(geditFrame)
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventSelectionChanged, Source: geditFrame}))
	assert.Equal(t, []string{ChangeSelection}, kinds(f.presenter.History()))
	assert.Equal(t, int64(2), h.Processed())
}

func TestTerminal_Text(t *testing.T) {
	f := newFixture(t, nil)
	h := NewTerminal(termApp, "gnome-terminal-server", f.env)
	ctx := context.Background()

	assert.Equal(t, DefaultMaxRetries+2, h.MaxRetries())
	assert.Equal(t, false, h.Setting("echoByWord"))

	require.NoError(t, h.Process(ctx, api.Event{Type: "object:text-changed:insert", Source: termWidget}))
	require.NoError(t, h.Process(ctx, api.Event{Type: "object:text-changed:insert", Source: termApp}))
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventTextCaretMoved, Source: termWidget}))
	assert.Equal(t, []string{ChangeText}, kinds(f.presenter.History()))

	f.bus.FailNext(termWidget, api.FieldRole, 1, nil)
	f.env.Nodes.Invalidate(termWidget, api.FieldRole)
	err := h.Process(ctx, api.Event{Type: "object:text-changed:delete", Source: termWidget})
	assert.True(t, api.IsTransient(err))
}

func TestFirefox_Activatable(t *testing.T) {
	f := newFixture(t, nil)
	h := NewFirefox(ffApp, "Firefox", f.env)

	tests := []struct {
		name string
		ev   api.Event
		want bool
	}{
		{"showing focus", api.Event{Type: "focus:", Source: ffDoc}, true},
		{"hidden focus", api.Event{Type: "focus:", Source: ffHidden}, false},
		{"hidden state focus", api.Event{Type: api.EventStateChangedFocused, Source: ffHidden, Detail1: 1}, false},
		{"window activate", api.Event{Type: api.EventWindowActivate, Source: ffHidden}, true},
		{"vanished", api.Event{Type: "focus:", Source: api.Ref{Bus: ":1.62", Path: "/gone"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.IsActivatableEvent(tt.ev))
		})
	}
}

func TestFirefox_CaretInDocument(t *testing.T) {
	f := newFixture(t, nil)
	h := NewFirefox(ffApp, "Firefox", f.env)
	ctx := context.Background()

	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventTextCaretMoved, Source: ffDoc}))
	assert.Zero(t, f.presenter.Count())

	require.NoError(t, h.Process(ctx, api.Event{Type: "focus:", Source: ffDoc}))
	require.NoError(t, h.Process(ctx, api.Event{Type: api.EventTextCaretMoved, Source: ffDoc}))
	assert.Equal(t, []string{ChangeFocus, ChangeText}, kinds(f.presenter.History()))
}

func TestLogPresenter_HistoryLimit(t *testing.T) {
	f := newFixture(t, nil)
	p := NewLogPresenter(f.env.Nodes, 2)
	ctx := context.Background()

	require.NoError(t, p.Render(ctx, geditFrame, "a"))
	require.NoError(t, p.Render(ctx, geditFrame, "b"))
	require.NoError(t, p.Render(ctx, geditFrame, "c"))

	assert.Equal(t, 3, p.Count())
	assert.Equal(t, []string{"b", "c"}, kinds(p.History()))

	err := p.Render(ctx, api.Ref{Bus: ":9", Path: "/nope"}, "d")
	assert.True(t, api.IsNodeUnavailable(err))
	assert.Equal(t, 3, p.Count())
}
