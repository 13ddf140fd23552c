package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"axdispatch/internal/api"
)

// ErrObjectGone is returned for refs the bus does not (or no longer) know.
var ErrObjectGone = errors.New("remote object no longer exists")

// DefaultDesktop is the desktop root used when none is configured.
var DefaultDesktop = api.Ref{Bus: ":1.0", Path: "/org/a11y/atspi/accessible/root"}

// NodeSpec describes one object in the in-memory tree.
type NodeSpec struct {
	Ref         api.Ref        `yaml:"ref"`
	Parent      api.Ref        `yaml:"parent,omitempty"`
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Role        api.Role       `yaml:"role,omitempty"`
	States      []api.State    `yaml:"states,omitempty"`
	Relations   []api.Relation `yaml:"relations,omitempty"`
	Interfaces  []string       `yaml:"interfaces,omitempty"`
}

type node struct {
	spec     NodeSpec
	app      api.Ref
	toolkit  string
	children []api.Ref
}

type failure struct {
	remaining int
	err       error
}

type failKey struct {
	ref   api.Ref
	field api.Field
}

// Bus is an in-memory implementation of api.Bus. It backs the replay and
// console commands and is the shared fake used by tests.
type Bus struct {
	mu sync.Mutex

	desktop api.Ref
	nodes   map[api.Ref]*node
	apps    []api.Ref

	subs map[string][]api.Listener

	failures map[failKey]*failure

	// call counters, keyed by field name or method
	calls            map[string]int
	subscribeCalls   map[string]int
	unsubscribeCalls map[string]int

	// appsErr makes Applications fail while set.
	appsErr error
}

// New creates an empty bus with the given desktop root. A nil desktop uses
// DefaultDesktop.
func New(desktop api.Ref) *Bus {
	if desktop.IsNil() {
		desktop = DefaultDesktop
	}
	b := &Bus{
		desktop:          desktop,
		nodes:            make(map[api.Ref]*node),
		subs:             make(map[string][]api.Listener),
		failures:         make(map[failKey]*failure),
		calls:            make(map[string]int),
		subscribeCalls:   make(map[string]int),
		unsubscribeCalls: make(map[string]int),
	}
	b.nodes[desktop] = &node{
		spec: NodeSpec{Ref: desktop, Name: "main", Role: api.RoleDesktopFrame},
		app:  desktop,
	}
	return b
}

// AddApplication attaches an application node to the desktop.
func (b *Bus) AddApplication(ref api.Ref, name, toolkit string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.nodes[ref]; exists {
		return fmt.Errorf("node %s already exists", ref)
	}
	b.nodes[ref] = &node{
		spec: NodeSpec{
			Ref:    ref,
			Parent: b.desktop,
			Name:   name,
			Role:   api.RoleApplication,
		},
		app:     ref,
		toolkit: toolkit,
	}
	desktop := b.nodes[b.desktop]
	desktop.children = append(desktop.children, ref)
	b.apps = append(b.apps, ref)
	return nil
}

// AddNode attaches a node below an existing parent. The node inherits the
// parent's application.
func (b *Bus) AddNode(spec NodeSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.nodes[spec.Ref]; exists {
		return fmt.Errorf("node %s already exists", spec.Ref)
	}
	parent, ok := b.nodes[spec.Parent]
	if !ok {
		return fmt.Errorf("parent %s of %s not found", spec.Parent, spec.Ref)
	}
	b.nodes[spec.Ref] = &node{spec: spec, app: parent.app}
	parent.children = append(parent.children, spec.Ref)
	return nil
}

// RemoveNode detaches ref and its whole subtree.
func (b *Bus) RemoveNode(ref api.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(ref)
}

// RemoveApplication removes an application and everything below it.
func (b *Bus) RemoveApplication(app api.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(app)
	b.apps = slices.DeleteFunc(b.apps, func(r api.Ref) bool { return r == app })
}

func (b *Bus) removeLocked(ref api.Ref) {
	n, ok := b.nodes[ref]
	if !ok {
		return
	}
	for _, child := range slices.Clone(n.children) {
		b.removeLocked(child)
	}
	if parent, ok := b.nodes[n.spec.Parent]; ok {
		parent.children = slices.DeleteFunc(parent.children, func(r api.Ref) bool { return r == ref })
	}
	delete(b.nodes, ref)
}

// SetName changes the name reported for ref.
func (b *Bus) SetName(ref api.Ref, name string) {
	b.mutate(ref, func(n *node) { n.spec.Name = name })
}

// SetDescription changes the description reported for ref.
func (b *Bus) SetDescription(ref api.Ref, description string) {
	b.mutate(ref, func(n *node) { n.spec.Description = description })
}

// SetStates replaces the state set reported for ref.
func (b *Bus) SetStates(ref api.Ref, states ...api.State) {
	b.mutate(ref, func(n *node) { n.spec.States = states })
}

// SetParent rewires the parent pointer reported for ref without moving the
// node in the children lists. Used to simulate inconsistent remote trees.
func (b *Bus) SetParent(ref, parent api.Ref) {
	b.mutate(ref, func(n *node) { n.spec.Parent = parent })
}

func (b *Bus) mutate(ref api.Ref, fn func(n *node)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[ref]; ok {
		fn(n)
	}
}

// FailNext makes the next n lookups of field on ref fail with err. A nil
// err uses ErrObjectGone.
func (b *Bus) FailNext(ref api.Ref, field api.Field, n int, err error) {
	if err == nil {
		err = ErrObjectGone
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[failKey{ref: ref, field: field}] = &failure{remaining: n, err: err}
}

// FailApplications makes Applications return err until cleared with nil.
func (b *Bus) FailApplications(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appsErr = err
}

// Calls returns how many remote lookups of field have been made.
func (b *Bus) Calls(field api.Field) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[field.String()]
}

// SubscribeCount returns how often Subscribe was called for pattern.
func (b *Bus) SubscribeCount(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeCalls[pattern]
}

// UnsubscribeCount returns how often Unsubscribe was called for pattern.
func (b *Bus) UnsubscribeCount(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribeCalls[pattern]
}

// Subscribed reports whether any listener is registered for pattern.
func (b *Bus) Subscribed(pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[pattern]) > 0
}

// Patterns returns every pattern with at least one listener, sorted.
func (b *Bus) Patterns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for p, ls := range b.subs {
		if len(ls) > 0 {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Subscribe implements api.EventSource.
func (b *Bus) Subscribe(pattern string, l api.Listener) error {
	if l == nil {
		return fmt.Errorf("subscribe %s: nil listener", pattern)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls[pattern]++
	if !slices.Contains(b.subs[pattern], l) {
		b.subs[pattern] = append(b.subs[pattern], l)
	}
	return nil
}

// Unsubscribe implements api.EventSource.
func (b *Bus) Unsubscribe(pattern string, l api.Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeCalls[pattern]++
	b.subs[pattern] = slices.DeleteFunc(b.subs[pattern], func(x api.Listener) bool { return x == l })
	if len(b.subs[pattern]) == 0 {
		delete(b.subs, pattern)
	}
	return nil
}

// DesktopRoot implements api.EventSource.
func (b *Bus) DesktopRoot() api.Ref {
	return b.desktop
}

// Applications implements api.EventSource.
func (b *Bus) Applications(ctx context.Context) ([]api.Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appsErr != nil {
		return nil, b.appsErr
	}
	return slices.Clone(b.apps), nil
}

// Emit delivers ev to every listener with a matching pattern. Each listener
// receives the event at most once even if several of its patterns match.
// A missing timestamp is filled in, as is the host application when the
// source is known.
func (b *Bus) Emit(ev api.Event) {
	b.mu.Lock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Host.IsNil() {
		if n, ok := b.nodes[ev.Source]; ok && n.app != b.desktop {
			ev.Host = n.app
		}
	}
	var targets []api.Listener
	for pattern, listeners := range b.subs {
		if !api.MatchesTag(pattern, ev.Type) {
			continue
		}
		for _, l := range listeners {
			if !slices.Contains(targets, l) {
				targets = append(targets, l)
			}
		}
	}
	b.mu.Unlock()

	for _, l := range targets {
		l.OnEvent(ev)
	}
}

// lookup resolves ref for field under the lock, applying failure injection
// and counting the call.
func (b *Bus) lookup(ctx context.Context, ref api.Ref, field api.Field) (*node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls[field.String()]++

	key := failKey{ref: ref, field: field}
	if f, ok := b.failures[key]; ok && f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(b.failures, key)
		}
		return nil, f.err
	}

	n, ok := b.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrObjectGone)
	}
	return n, nil
}

func (b *Bus) Name(ctx context.Context, ref api.Ref) (string, error) {
	n, err := b.lookup(ctx, ref, api.FieldName)
	if err != nil {
		return "", err
	}
	return n.spec.Name, nil
}

func (b *Bus) Description(ctx context.Context, ref api.Ref) (string, error) {
	n, err := b.lookup(ctx, ref, api.FieldDescription)
	if err != nil {
		return "", err
	}
	return n.spec.Description, nil
}

func (b *Bus) Role(ctx context.Context, ref api.Ref) (api.Role, error) {
	n, err := b.lookup(ctx, ref, api.FieldRole)
	if err != nil {
		return "", err
	}
	if n.spec.Role == "" {
		return api.RoleUnknown, nil
	}
	return n.spec.Role, nil
}

func (b *Bus) States(ctx context.Context, ref api.Ref) (api.StateSet, error) {
	n, err := b.lookup(ctx, ref, api.FieldStates)
	if err != nil {
		return nil, err
	}
	return api.NewStateSet(n.spec.States...), nil
}

func (b *Bus) ChildCount(ctx context.Context, ref api.Ref) (int, error) {
	n, err := b.lookup(ctx, ref, api.FieldChildCount)
	if err != nil {
		return 0, err
	}
	return len(n.children), nil
}

func (b *Bus) ChildAt(ctx context.Context, ref api.Ref, index int) (api.Ref, error) {
	n, err := b.lookup(ctx, ref, api.FieldChildCount)
	if err != nil {
		return api.NilRef, err
	}
	if index < 0 || index >= len(n.children) {
		return api.NilRef, fmt.Errorf("child index %d out of range for %s", index, ref)
	}
	return n.children[index], nil
}

func (b *Bus) IndexInParent(ctx context.Context, ref api.Ref) (int, error) {
	n, err := b.lookup(ctx, ref, api.FieldIndexInParent)
	if err != nil {
		return -1, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	parent, ok := b.nodes[n.spec.Parent]
	if !ok {
		return -1, nil
	}
	return slices.Index(parent.children, ref), nil
}

func (b *Bus) Relations(ctx context.Context, ref api.Ref) ([]api.Relation, error) {
	n, err := b.lookup(ctx, ref, api.FieldRelations)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.spec.Relations), nil
}

func (b *Bus) Interfaces(ctx context.Context, ref api.Ref) (api.InterfaceSet, error) {
	n, err := b.lookup(ctx, ref, api.FieldInterfaces)
	if err != nil {
		return nil, err
	}
	set := make(api.InterfaceSet, len(n.spec.Interfaces))
	for _, iface := range n.spec.Interfaces {
		set[iface] = true
	}
	return set, nil
}

func (b *Bus) Parent(ctx context.Context, ref api.Ref) (api.Ref, error) {
	n, err := b.lookup(ctx, ref, api.FieldParent)
	if err != nil {
		return api.NilRef, err
	}
	return n.spec.Parent, nil
}

func (b *Bus) Application(ctx context.Context, ref api.Ref) (api.Ref, error) {
	n, err := b.lookup(ctx, ref, api.FieldApplication)
	if err != nil {
		return api.NilRef, err
	}
	return n.app, nil
}

func (b *Bus) ToolkitName(ctx context.Context, app api.Ref) (string, error) {
	n, err := b.lookup(ctx, app, api.FieldToolkit)
	if err != nil {
		return "", err
	}
	return n.toolkit, nil
}

var _ api.Bus = (*Bus)(nil)
