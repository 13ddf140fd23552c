package registry

import (
	"context"
	"strings"

	"axdispatch/internal/api"
)

// Constructor builds the handler for one application.
type Constructor func(ctx context.Context, app api.Ref) (api.Handler, error)

// Entry pairs a predicate with a constructor. Match receives the
// application or toolkit name; a nil Match compares it with Name,
// ignoring case.
type Entry struct {
	Name  string
	Match func(name string) bool
	New   Constructor
}

func (e Entry) matches(name string) bool {
	if e.Match != nil {
		return e.Match(name)
	}
	return strings.EqualFold(e.Name, name)
}

// Factory is the static resolution table. Application entries are tried
// first, then toolkit entries, then Default. Within a step entries are tried
// in order and the first that matches and constructs successfully wins.
type Factory struct {
	Apps     []Entry
	Toolkits []Entry
	Default  Constructor
}

// HasPrefix returns a Match function for names starting with prefix,
// ignoring case.
func HasPrefix(prefix string) func(string) bool {
	prefix = strings.ToLower(prefix)
	return func(name string) bool {
		return strings.HasPrefix(strings.ToLower(name), prefix)
	}
}
