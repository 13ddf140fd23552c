// Package nodecache mirrors remote accessible objects locally.
//
// The Cache is an identity map keyed by api.Ref. Each Node tracks which of
// its fields have been resolved in a bit mask, so a field is fetched from
// the Bus at most once until it is invalidated. A failed fetch marks the
// Node invalid; the next read of an invalid Node throws away everything it
// had cached and starts over.
//
// Nodes are evicted, never repaired: after a defunct or parent-changed event
// the next GetOrCreate for the same Ref returns a brand new Node.
//
// All mutation after startup happens from the dispatcher's consumer path,
// but reads may come from anywhere, so the map is lock protected and Bus
// calls for the same (ref, field) pair are deduplicated with singleflight.
package nodecache
