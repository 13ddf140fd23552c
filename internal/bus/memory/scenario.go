package memory

import (
	"context"
	"fmt"
	"os"
	"time"

	"axdispatch/internal/api"

	"gopkg.in/yaml.v3"
)

// desktopAlias lets scenario steps name the desktop root without spelling
// out its ref.
const desktopAlias = "desktop"

// Scenario is a YAML description of an accessibility tree plus a sequence of
// events to play against it.
type Scenario struct {
	Desktop      api.Ref           `yaml:"desktop,omitempty"`
	Applications []ApplicationSpec `yaml:"applications"`
	Steps        []Step            `yaml:"events"`
}

// ApplicationSpec describes one application and the nodes below it. Nodes
// are added in order, so parents must come before their children. A node
// with no parent is attached to the application.
type ApplicationSpec struct {
	Ref     api.Ref    `yaml:"ref"`
	Name    string     `yaml:"name"`
	Toolkit string     `yaml:"toolkit,omitempty"`
	Nodes   []NodeSpec `yaml:"nodes,omitempty"`
}

// Step is one scenario event plus optional mutations applied to the tree
// right before the event is emitted.
type Step struct {
	Type    string `yaml:"type"`
	Source  string `yaml:"source"`
	Detail1 int    `yaml:"detail1,omitempty"`
	Detail2 int    `yaml:"detail2,omitempty"`
	AnyData string `yaml:"anyData,omitempty"`
	Host    string `yaml:"host,omitempty"`

	RemoveApplication api.Ref     `yaml:"removeApplication,omitempty"`
	RemoveNode        api.Ref     `yaml:"removeNode,omitempty"`
	Rename            string      `yaml:"rename,omitempty"`
	SetStates         []api.State `yaml:"setStates,omitempty"`

	// Pause is slept after the event has been emitted.
	Pause time.Duration `yaml:"pause,omitempty"`
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	for i, step := range sc.Steps {
		if step.Type == "" {
			return nil, fmt.Errorf("scenario event %d: type is required", i)
		}
	}
	return &sc, nil
}

// Build creates a Bus holding the scenario's tree.
func (sc *Scenario) Build() (*Bus, error) {
	b := New(sc.Desktop)
	for _, app := range sc.Applications {
		if app.Ref.IsNil() {
			return nil, fmt.Errorf("application %q has no ref", app.Name)
		}
		if err := b.AddApplication(app.Ref, app.Name, app.Toolkit); err != nil {
			return nil, err
		}
		for _, n := range app.Nodes {
			if n.Parent.IsNil() {
				n.Parent = app.Ref
			}
			if err := b.AddNode(n); err != nil {
				return nil, fmt.Errorf("application %q: %w", app.Name, err)
			}
		}
	}
	return b, nil
}

// Event converts the step into a bus event, resolving the desktop alias.
func (s Step) Event(b *Bus) (api.Event, error) {
	source, err := b.resolveAlias(s.Source)
	if err != nil {
		return api.Event{}, fmt.Errorf("event %s: source: %w", s.Type, err)
	}
	host, err := b.resolveAlias(s.Host)
	if err != nil {
		return api.Event{}, fmt.Errorf("event %s: host: %w", s.Type, err)
	}
	ev := api.Event{
		Type:    s.Type,
		Source:  source,
		Detail1: s.Detail1,
		Detail2: s.Detail2,
		Host:    host,
	}
	if s.AnyData != "" {
		ev.AnyData = s.AnyData
	}
	return ev, nil
}

func (b *Bus) resolveAlias(s string) (api.Ref, error) {
	if s == desktopAlias {
		return b.desktop, nil
	}
	return api.ParseRef(s)
}

// Apply performs the step's tree mutations and emits its event.
func (b *Bus) Apply(s Step) error {
	ev, err := s.Event(b)
	if err != nil {
		return err
	}
	if !s.RemoveApplication.IsNil() {
		b.RemoveApplication(s.RemoveApplication)
	}
	if !s.RemoveNode.IsNil() {
		b.RemoveNode(s.RemoveNode)
	}
	if s.Rename != "" {
		b.SetName(ev.Source, s.Rename)
	}
	if len(s.SetStates) > 0 {
		b.SetStates(ev.Source, s.SetStates...)
	}
	b.Emit(ev)
	return nil
}

// Play applies every step in order, honouring pauses and ctx cancellation.
// It returns the number of steps applied.
func (b *Bus) Play(ctx context.Context, steps []Step) (int, error) {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := b.Apply(s); err != nil {
			return i, fmt.Errorf("step %d: %w", i, err)
		}
		if s.Pause > 0 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-time.After(s.Pause):
			}
		}
	}
	return len(steps), nil
}
