package focus

import (
	"sync"

	"axdispatch/internal/api"
)

// Tracker holds the global "current focus" ref. Handlers update it while
// processing focus events; the dispatcher snapshots it before delivery and
// puts it back before every retry so a failed attempt leaves no trace.
type Tracker struct {
	mu      sync.RWMutex
	current api.Ref
	changes int
}

// NewTracker creates a tracker with no focus.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns the focused object, or the nil ref.
func (t *Tracker) Current() api.Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Set moves focus to ref. It reports whether the focus changed.
func (t *Tracker) Set(ref api.Ref) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == ref {
		return false
	}
	t.current = ref
	t.changes++
	return true
}

// Changes returns how often the focus has moved.
func (t *Tracker) Changes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changes
}

// Clear drops focus if it is on ref, or unconditionally for the nil ref.
func (t *Tracker) Clear(ref api.Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref.IsNil() || t.current == ref {
		t.current = api.NilRef
	}
}
