// Package api holds the contracts shared by every axdispatch package.
//
// Keeping the shared vocabulary in one leaf package means the engine's
// components can depend on each other's types without importing each other:
//
//   - Ref, Event, StateSet, Relation, KeyBinding and Settings describe the
//     remote object graph and what flows through the queue
//   - Role, State and the Event* tags name the values reported by the Bus
//   - Field enumerates the lazily resolved node attributes
//   - Bus (EventSource + NodeResolver) and Listener are the consumed bus
//     adapter interface
//   - Handler is the per-application processing unit
//
// # Errors
//
// The error taxonomy lives here as well:
//
//   - NodeUnavailableError: a remote field lookup failed; the node has been
//     marked invalid. Not retried by the cache.
//   - TransientDispatchError: a handler failed because a remote object went
//     away mid-call. Retried by the dispatcher.
//   - HandlerConstructionError: a handler constructor failed. Absorbed by
//     the registry's resolution chain.
//
// Use the IsNodeUnavailable, IsTransient and IsHandlerConstruction helpers,
// which look through wrapped errors.
package api
