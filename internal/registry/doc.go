// Package registry owns the mapping from applications to handlers.
//
// Handlers are created lazily from a static Factory the first time an event
// from their application is dispatched, and are dropped again by Reconcile
// once the application disappears from the Bus.
//
// Bus subscriptions are reference counted per event-type tag: the first
// handler interested in a tag subscribes it, the last one to go away
// unsubscribes it. In listen-all mode the top-level tags are subscribed once
// and the counts are not kept.
package registry
