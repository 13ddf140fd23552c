package api

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Ref is the identity of a remote accessible object: the bus name of the
// owning process plus the object path. Refs are comparable and are used as
// map keys throughout the engine. The zero Ref is the nil reference.
type Ref struct {
	Bus  string `yaml:"bus" json:"bus"`
	Path string `yaml:"path" json:"path"`
}

// NilRef is the zero Ref.
var NilRef = Ref{}

// IsNil reports whether r refers to nothing.
func (r Ref) IsNil() bool {
	return r.Bus == "" && r.Path == ""
}

// String renders the ref as "bus:path".
func (r Ref) String() string {
	if r.IsNil() {
		return "<nil>"
	}
	return r.Bus + ":" + r.Path
}

// ParseRef parses the "bus:path" form produced by String. The bus part may
// itself start with a colon (":1.42:/org/a11y/atspi/accessible/3").
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "<nil>" {
		return NilRef, nil
	}
	// Split at the last ":" that is followed by "/", which is where the
	// object path starts.
	idx := strings.LastIndex(s, ":/")
	if idx <= 0 {
		return NilRef, fmt.Errorf("invalid ref %q: expected bus:path", s)
	}
	return Ref{Bus: s[:idx], Path: s[idx+1:]}, nil
}

// UnmarshalText lets refs be written as plain "bus:path" strings in YAML.
func (r *Ref) UnmarshalText(text []byte) error {
	parsed, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText renders the ref in its "bus:path" form.
func (r Ref) MarshalText() ([]byte, error) {
	if r.IsNil() {
		return []byte(""), nil
	}
	return []byte(r.String()), nil
}

// Event is a single notification delivered by the Bus. Events are treated as
// immutable once they have been enqueued.
type Event struct {
	// Type is the full event type tag, e.g. "object:state-changed:focused".
	Type string

	// Source is the object the event is about.
	Source Ref

	Detail1 int
	Detail2 int

	// AnyData carries event-specific payload (text, child ref, ...).
	AnyData any

	// Host is the application the source lives in, when the Bus knows it.
	Host Ref

	Timestamp time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%d,%d) source=%s host=%s", e.Type, e.Detail1, e.Detail2, e.Source, e.Host)
}

// Relation links a node to other nodes, e.g. "labelled-by".
type Relation struct {
	Type    string `yaml:"type" json:"type"`
	Targets []Ref  `yaml:"targets" json:"targets"`
}

// StateSet is the set of states an object is in.
type StateSet map[State]bool

// NewStateSet builds a StateSet from the given states.
func NewStateSet(states ...State) StateSet {
	s := make(StateSet, len(states))
	for _, st := range states {
		s[st] = true
	}
	return s
}

// Contains reports whether st is in the set.
func (s StateSet) Contains(st State) bool {
	return s[st]
}

// Clone returns an independent copy.
func (s StateSet) Clone() StateSet {
	return maps.Clone(s)
}

// Sorted returns the states in lexical order.
func (s StateSet) Sorted() []State {
	out := slices.Collect(maps.Keys(s))
	slices.Sort(out)
	return out
}

// InterfaceSet lists the remote interfaces an object implements
// ("Text", "Action", "Component", ...).
type InterfaceSet map[string]bool

// Has reports whether the object implements iface.
func (s InterfaceSet) Has(iface string) bool {
	return s[iface]
}

// KeyBinding maps a key combination to a named handler action.
type KeyBinding struct {
	Keys   string `yaml:"keys" json:"keys"`
	Action string `yaml:"action" json:"action"`
}

// Settings is an opaque snapshot of a Handler's overridable settings.
type Settings map[string]any

// Clone returns a shallow copy of the snapshot.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}
