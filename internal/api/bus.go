package api

import "context"

// Listener receives events for the patterns it subscribed to. Listeners are
// compared by identity, so implementations should be pointer types.
type Listener interface {
	OnEvent(ev Event)
}

// EventSource is the event side of the Bus: subscription management plus the
// two whole-desktop queries the engine needs.
type EventSource interface {
	// Subscribe registers l for every event whose type matches pattern.
	Subscribe(pattern string, l Listener) error

	// Unsubscribe removes a registration made by Subscribe.
	Unsubscribe(pattern string, l Listener) error

	// DesktopRoot returns the ref of the desktop, the parent of every
	// application.
	DesktopRoot() Ref

	// Applications lists the applications currently connected to the bus.
	Applications(ctx context.Context) ([]Ref, error)
}

// NodeResolver performs remote field lookups. Every call may fail with a
// communication error, typically because the remote object is gone.
type NodeResolver interface {
	Name(ctx context.Context, ref Ref) (string, error)
	Description(ctx context.Context, ref Ref) (string, error)
	Role(ctx context.Context, ref Ref) (Role, error)
	States(ctx context.Context, ref Ref) (StateSet, error)
	ChildCount(ctx context.Context, ref Ref) (int, error)
	ChildAt(ctx context.Context, ref Ref, index int) (Ref, error)
	IndexInParent(ctx context.Context, ref Ref) (int, error)
	Relations(ctx context.Context, ref Ref) ([]Relation, error)
	Interfaces(ctx context.Context, ref Ref) (InterfaceSet, error)
	Parent(ctx context.Context, ref Ref) (Ref, error)
	Application(ctx context.Context, ref Ref) (Ref, error)

	// ToolkitName is only meaningful for application refs.
	ToolkitName(ctx context.Context, app Ref) (string, error)
}

// Bus is the full adapter to the accessibility bus.
type Bus interface {
	EventSource
	NodeResolver
}
