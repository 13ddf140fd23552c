package nodecache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"

	"golang.org/x/sync/singleflight"
)

var errNilRef = errors.New("nil ref")

// coalescedRoles maps leaf menu-item roles to the container role they are
// reported as once they own children.
var coalescedRoles = map[api.Role]api.Role{
	api.RoleMenuItem:      api.RoleMenu,
	api.RoleCheckMenuItem: api.RoleCheckMenu,
	api.RoleRadioMenuItem: api.RoleRadioMenu,
}

// Stats counts cache activity.
type Stats struct {
	Nodes     int   `json:"nodes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Failures  int64 `json:"failures"`
	Evictions int64 `json:"evictions"`
}

// Cache is the identity map from Ref to Node. There is at most one Node per
// Ref; evicted Nodes are never resurrected, a later GetOrCreate builds a
// fresh one.
type Cache struct {
	resolver api.NodeResolver

	mu    sync.RWMutex
	nodes map[api.Ref]*Node

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

// New creates an empty cache resolving fields through resolver.
func New(resolver api.NodeResolver) *Cache {
	return &Cache{
		resolver: resolver,
		nodes:    make(map[api.Ref]*Node),
	}
}

// GetOrCreate returns the Node for ref, creating an unresolved one if the
// cache has none. An existing Node is returned whether or not it is valid.
func (c *Cache) GetOrCreate(ref api.Ref) *Node {
	c.mu.RLock()
	n, ok := c.nodes[ref]
	c.mu.RUnlock()
	if ok {
		return n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[ref]; ok {
		return n
	}
	n = newNode(ref)
	c.nodes[ref] = n
	return n
}

// Lookup returns the cached Node for ref without creating one.
func (c *Cache) Lookup(ref api.Ref) (*Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[ref]
	return n, ok
}

// Len returns the number of cached nodes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Refs returns the refs of every cached node in a stable order.
func (c *Cache) Refs() []api.Ref {
	c.mu.RLock()
	refs := make([]api.Ref, 0, len(c.nodes))
	for ref := range c.nodes {
		refs = append(refs, ref)
	}
	c.mu.RUnlock()

	slices.SortFunc(refs, func(a, b api.Ref) int {
		return strings.Compare(a.String(), b.String())
	})
	return refs
}

// Info returns a copy of the cached state of ref.
func (c *Cache) Info(ref api.Ref) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[ref]
	if !ok {
		return Info{}, false
	}
	return n.info(), true
}

// ApplicationInfos returns copies of every cached node that belongs to app,
// using the same ownership rule as EvictApplication.
func (c *Cache) ApplicationInfos(app api.Ref) []Info {
	var out []Info
	for _, ref := range c.Refs() {
		c.mu.RLock()
		n, ok := c.nodes[ref]
		if ok && owns(app, ref, n) {
			out = append(out, n.info())
		}
		c.mu.RUnlock()
	}
	return out
}

// owns reports whether node n at ref belongs to app. Caller holds Cache.mu.
func owns(app, ref api.Ref, n *Node) bool {
	return ref == app || ref.Bus == app.Bus ||
		(n.resolved&api.FieldApplication != 0 && n.app == app)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Nodes:     c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Field returns the value of f for ref, resolving it through the Bus if it
// is not memoized. On failure the node is marked invalid and a
// *api.NodeUnavailableError is returned.
func (c *Cache) Field(ctx context.Context, ref api.Ref, f api.Field) (any, error) {
	switch f {
	case api.FieldRole:
		return c.Role(ctx, ref)
	case api.FieldParent:
		return c.Parent(ctx, ref)
	case api.FieldLabel:
		return c.Label(ctx, ref)
	}
	return c.resolveField(ctx, ref, f)
}

type fetchFunc func(ctx context.Context) (any, error)

// resolveField resolves one of the plain remote fields.
func (c *Cache) resolveField(ctx context.Context, ref api.Ref, f api.Field) (any, error) {
	fetch, ok := c.fetcher(ref, f)
	if !ok {
		return nil, fmt.Errorf("field %s cannot be resolved", f)
	}
	return c.resolve(ctx, ref, f, fetch)
}

func (c *Cache) fetcher(ref api.Ref, f api.Field) (fetchFunc, bool) {
	r := c.resolver
	switch f {
	case api.FieldName:
		return func(ctx context.Context) (any, error) { return r.Name(ctx, ref) }, true
	case api.FieldDescription:
		return func(ctx context.Context) (any, error) { return r.Description(ctx, ref) }, true
	case api.FieldRole:
		return func(ctx context.Context) (any, error) { return r.Role(ctx, ref) }, true
	case api.FieldStates:
		return func(ctx context.Context) (any, error) { return r.States(ctx, ref) }, true
	case api.FieldChildCount:
		return func(ctx context.Context) (any, error) { return r.ChildCount(ctx, ref) }, true
	case api.FieldIndexInParent:
		return func(ctx context.Context) (any, error) { return r.IndexInParent(ctx, ref) }, true
	case api.FieldRelations:
		return func(ctx context.Context) (any, error) { return r.Relations(ctx, ref) }, true
	case api.FieldInterfaces:
		return func(ctx context.Context) (any, error) { return r.Interfaces(ctx, ref) }, true
	case api.FieldApplication:
		return func(ctx context.Context) (any, error) { return r.Application(ctx, ref) }, true
	case api.FieldToolkit:
		return func(ctx context.Context) (any, error) { return r.ToolkitName(ctx, ref) }, true
	}
	return nil, false
}

// cached returns the memoized value of f on n, if n is valid and has it.
func (c *Cache) cached(n *Node, f api.Field) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !n.valid.Load() || n.resolved&f == 0 {
		return nil, false
	}
	return n.get(f), true
}

// resolve is the get-or-resolve-then-memoize core shared by every accessor.
// The Bus is called without holding the cache lock.
func (c *Cache) resolve(ctx context.Context, ref api.Ref, f api.Field, fetch fetchFunc) (any, error) {
	if ref.IsNil() {
		return nil, api.NewNodeUnavailableError(ref, f, errNilRef)
	}
	n := c.GetOrCreate(ref)
	if v, ok := c.cached(n, f); ok {
		c.hits.Add(1)
		return v, nil
	}

	c.misses.Add(1)
	v, err, _ := c.group.Do(ref.String()+"#"+f.String(), func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		c.failures.Add(1)
		n.valid.Store(false)
		logging.Debug("NodeCache", "Resolving %s of %s failed, node marked invalid: %v", f, ref, err)
		return nil, api.NewNodeUnavailableError(ref, f, err)
	}

	c.store(n, f, v)
	return v, nil
}

// store memoizes v on n. A Node that has been evicted or replaced in the
// meantime is left alone. Storing into an invalid node first discards all
// of its stale fields and then marks it valid again.
func (c *Cache) store(n *Node, f api.Field, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nodes[n.ref] != n {
		return
	}
	if !n.valid.Load() {
		n.resolved = 0
		n.valid.Store(true)
	}
	n.set(f, v)
}

func (c *Cache) Name(ctx context.Context, ref api.Ref) (string, error) {
	v, err := c.resolveField(ctx, ref, api.FieldName)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) Description(ctx context.Context, ref api.Ref) (string, error) {
	v, err := c.resolveField(ctx, ref, api.FieldDescription)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RawRole returns the role exactly as the Bus reports it.
func (c *Cache) RawRole(ctx context.Context, ref api.Ref) (api.Role, error) {
	v, err := c.resolveField(ctx, ref, api.FieldRole)
	if err != nil {
		return "", err
	}
	return v.(api.Role), nil
}

// Role returns the coalesced role: menu items that own children are
// reported as the matching menu role. Only the raw role is memoized, so the
// result follows child-count invalidations.
func (c *Cache) Role(ctx context.Context, ref api.Ref) (api.Role, error) {
	raw, err := c.RawRole(ctx, ref)
	if err != nil {
		return "", err
	}
	coalesced, ok := coalescedRoles[raw]
	if !ok {
		return raw, nil
	}
	count, err := c.ChildCount(ctx, ref)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return coalesced, nil
	}
	return raw, nil
}

func (c *Cache) States(ctx context.Context, ref api.Ref) (api.StateSet, error) {
	v, err := c.resolveField(ctx, ref, api.FieldStates)
	if err != nil {
		return nil, err
	}
	return v.(api.StateSet), nil
}

// HasState is a convenience wrapper around States.
func (c *Cache) HasState(ctx context.Context, ref api.Ref, st api.State) (bool, error) {
	states, err := c.States(ctx, ref)
	if err != nil {
		return false, err
	}
	return states.Contains(st), nil
}

func (c *Cache) ChildCount(ctx context.Context, ref api.Ref) (int, error) {
	v, err := c.resolveField(ctx, ref, api.FieldChildCount)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ChildAt resolves the index-th child and returns its Node. Children are
// not memoized; the returned Node comes from the identity map.
func (c *Cache) ChildAt(ctx context.Context, ref api.Ref, index int) (*Node, error) {
	child, err := c.resolver.ChildAt(ctx, ref, index)
	if err != nil {
		c.failures.Add(1)
		c.MarkInvalid(ref)
		return nil, api.NewNodeUnavailableError(ref, api.FieldChildCount, err)
	}
	return c.GetOrCreate(child), nil
}

func (c *Cache) IndexInParent(ctx context.Context, ref api.Ref) (int, error) {
	v, err := c.resolveField(ctx, ref, api.FieldIndexInParent)
	if err != nil {
		return -1, err
	}
	return v.(int), nil
}

func (c *Cache) Relations(ctx context.Context, ref api.Ref) ([]api.Relation, error) {
	v, err := c.resolveField(ctx, ref, api.FieldRelations)
	if err != nil {
		return nil, err
	}
	return v.([]api.Relation), nil
}

func (c *Cache) Interfaces(ctx context.Context, ref api.Ref) (api.InterfaceSet, error) {
	v, err := c.resolveField(ctx, ref, api.FieldInterfaces)
	if err != nil {
		return nil, err
	}
	return v.(api.InterfaceSet), nil
}

// Parent returns the parent ref of ref. A Bus that reports a node as its
// own parent gets the node marked invalid and an error wrapping
// api.ErrSelfParent; the bogus value is never memoized.
func (c *Cache) Parent(ctx context.Context, ref api.Ref) (api.Ref, error) {
	v, err := c.resolve(ctx, ref, api.FieldParent, func(ctx context.Context) (any, error) {
		parent, err := c.resolver.Parent(ctx, ref)
		if err != nil {
			return nil, err
		}
		if parent == ref {
			return nil, api.ErrSelfParent
		}
		return parent, nil
	})
	if err != nil {
		return api.NilRef, err
	}
	return v.(api.Ref), nil
}

// ParentNode returns the Node of ref's parent, or nil for a root.
func (c *Cache) ParentNode(ctx context.Context, ref api.Ref) (*Node, error) {
	parent, err := c.Parent(ctx, ref)
	if err != nil || parent.IsNil() {
		return nil, err
	}
	return c.GetOrCreate(parent), nil
}

// Application returns the ref of the application ref belongs to.
func (c *Cache) Application(ctx context.Context, ref api.Ref) (api.Ref, error) {
	v, err := c.resolveField(ctx, ref, api.FieldApplication)
	if err != nil {
		return api.NilRef, err
	}
	return v.(api.Ref), nil
}

// Toolkit returns the toolkit name of an application node.
func (c *Cache) Toolkit(ctx context.Context, app api.Ref) (string, error) {
	v, err := c.resolveField(ctx, app, api.FieldToolkit)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Label returns the names of the node's labelled-by targets joined by a
// space, falling back to the node's own name.
func (c *Cache) Label(ctx context.Context, ref api.Ref) (string, error) {
	n := c.GetOrCreate(ref)
	if v, ok := c.cached(n, api.FieldLabel); ok {
		c.hits.Add(1)
		return v.(string), nil
	}

	relations, err := c.Relations(ctx, ref)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, rel := range relations {
		if rel.Type != api.RelationLabelledBy {
			continue
		}
		for _, target := range rel.Targets {
			if target == ref {
				continue
			}
			name, err := c.Name(ctx, target)
			if err != nil {
				return "", err
			}
			if name = strings.TrimSpace(name); name != "" {
				parts = append(parts, name)
			}
		}
	}

	label := strings.Join(parts, " ")
	if label == "" {
		if label, err = c.Name(ctx, ref); err != nil {
			return "", err
		}
	}
	c.store(n, api.FieldLabel, label)
	return label, nil
}

// Invalidate clears one memoized field of ref. Clearing the name,
// description or relations also clears the derived label.
func (c *Cache) Invalidate(ref api.Ref, f api.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[ref]
	if !ok {
		return
	}
	mask := f
	if f&(api.FieldName|api.FieldDescription|api.FieldRelations) != 0 {
		mask |= api.FieldLabel
	}
	n.resolved &^= mask
}

// MarkInvalid flags every field of ref as stale.
func (c *Cache) MarkInvalid(ref api.Ref) {
	if n, ok := c.Lookup(ref); ok {
		n.valid.Store(false)
	}
}

// Evict removes ref from the cache. It reports whether a node was removed.
func (c *Cache) Evict(ref api.Ref) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[ref]
	if !ok {
		return false
	}
	n.valid.Store(false)
	delete(c.nodes, ref)
	c.evictions.Add(1)
	return true
}

// EvictApplication removes the application node and every node that belongs
// to it. A node belongs to app if its resolved application is app or if it
// lives on the same bus connection. It returns the number of nodes removed.
func (c *Cache) EvictApplication(app api.Ref) int {
	if app.IsNil() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for ref, n := range c.nodes {
		if !owns(app, ref, n) {
			continue
		}
		n.valid.Store(false)
		delete(c.nodes, ref)
		removed++
	}
	c.evictions.Add(int64(removed))
	if removed > 0 {
		logging.Debug("NodeCache", "Evicted %d nodes of application %s", removed, app)
	}
	return removed
}
