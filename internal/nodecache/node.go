package nodecache

import (
	"sync/atomic"

	"axdispatch/internal/api"
)

// Node is the local mirror of one remote accessible object. Its fields are
// resolved lazily through the owning Cache; a Node never talks to the Bus
// itself.
//
// Parent and application are held as Refs and resolved through the Cache's
// identity map, so Nodes never point at each other.
type Node struct {
	ref   api.Ref
	valid atomic.Bool

	// Guarded by Cache.mu.
	resolved      api.Field
	name          string
	description   string
	role          api.Role
	states        api.StateSet
	childCount    int
	indexInParent int
	relations     []api.Relation
	interfaces    api.InterfaceSet
	parent        api.Ref
	app           api.Ref
	toolkit       string
	label         string
}

func newNode(ref api.Ref) *Node {
	n := &Node{ref: ref, indexInParent: -1}
	n.valid.Store(true)
	return n
}

// Ref returns the node's immutable identity.
func (n *Node) Ref() api.Ref {
	return n.ref
}

// Valid reports whether the node's cached fields can be trusted. An invalid
// node re-resolves every field on its next read.
func (n *Node) Valid() bool {
	return n.valid.Load()
}

// get returns the memoized value of f. Caller holds Cache.mu.
func (n *Node) get(f api.Field) any {
	switch f {
	case api.FieldName:
		return n.name
	case api.FieldDescription:
		return n.description
	case api.FieldRole:
		return n.role
	case api.FieldStates:
		return n.states
	case api.FieldChildCount:
		return n.childCount
	case api.FieldIndexInParent:
		return n.indexInParent
	case api.FieldRelations:
		return n.relations
	case api.FieldInterfaces:
		return n.interfaces
	case api.FieldParent:
		return n.parent
	case api.FieldApplication:
		return n.app
	case api.FieldToolkit:
		return n.toolkit
	case api.FieldLabel:
		return n.label
	}
	return nil
}

// set memoizes v as the value of f. Caller holds Cache.mu for writing.
func (n *Node) set(f api.Field, v any) {
	switch f {
	case api.FieldName:
		n.name, _ = v.(string)
	case api.FieldDescription:
		n.description, _ = v.(string)
	case api.FieldRole:
		n.role, _ = v.(api.Role)
	case api.FieldStates:
		n.states, _ = v.(api.StateSet)
	case api.FieldChildCount:
		n.childCount, _ = v.(int)
	case api.FieldIndexInParent:
		n.indexInParent, _ = v.(int)
	case api.FieldRelations:
		n.relations, _ = v.([]api.Relation)
	case api.FieldInterfaces:
		n.interfaces, _ = v.(api.InterfaceSet)
	case api.FieldParent:
		n.parent, _ = v.(api.Ref)
	case api.FieldApplication:
		n.app, _ = v.(api.Ref)
	case api.FieldToolkit:
		n.toolkit, _ = v.(string)
	case api.FieldLabel:
		n.label, _ = v.(string)
	default:
		return
	}
	n.resolved |= f
}

// Info is a point-in-time copy of a node's resolved fields, for display.
type Info struct {
	Ref         api.Ref     `json:"ref"`
	Valid       bool        `json:"valid"`
	Resolved    []api.Field `json:"resolved"`
	Name        string      `json:"name,omitempty"`
	Role        api.Role    `json:"role,omitempty"`
	ChildCount  int         `json:"childCount"`
	States      []api.State `json:"states,omitempty"`
	Parent      api.Ref     `json:"parent"`
	Application api.Ref     `json:"application"`
}

// info copies the node. Caller holds Cache.mu.
func (n *Node) info() Info {
	out := Info{
		Ref:         n.ref,
		Valid:       n.valid.Load(),
		Name:        n.name,
		Role:        n.role,
		ChildCount:  n.childCount,
		States:      n.states.Sorted(),
		Parent:      n.parent,
		Application: n.app,
	}
	for _, f := range api.AllFields {
		if n.resolved&f != 0 {
			out.Resolved = append(out.Resolved, f)
		}
	}
	return out
}
