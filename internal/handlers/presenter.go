package handlers

import (
	"context"
	"sync"
	"time"

	"axdispatch/internal/api"
	"axdispatch/internal/nodecache"
	"axdispatch/pkg/logging"
)

// DefaultHistoryLimit bounds the presentations kept by a LogPresenter.
const DefaultHistoryLimit = 256

// Presentation is one rendered change.
type Presentation struct {
	Ref   api.Ref   `json:"ref"`
	Kind  string    `json:"kind"`
	Label string    `json:"label"`
	Role  api.Role  `json:"role"`
	At    time.Time `json:"at"`
}

// LogPresenter renders changes to the log and keeps a bounded history of
// what it presented.
type LogPresenter struct {
	nodes *nodecache.Cache
	limit int

	mu      sync.Mutex
	history []Presentation
	total   int
}

// NewLogPresenter creates a presenter reading labels and roles from nodes.
// A limit of zero or less uses DefaultHistoryLimit.
func NewLogPresenter(nodes *nodecache.Cache, limit int) *LogPresenter {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &LogPresenter{nodes: nodes, limit: limit}
}

// Render resolves the label and role of ref and logs them.
func (p *LogPresenter) Render(ctx context.Context, ref api.Ref, changeKind string) error {
	label, err := p.nodes.Label(ctx, ref)
	if err != nil {
		return err
	}
	role, err := p.nodes.Role(ctx, ref)
	if err != nil {
		return err
	}

	logging.Info("Presenter", "[%s] %s %q", changeKind, role, label)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, Presentation{Ref: ref, Kind: changeKind, Label: label, Role: role, At: time.Now()})
	if over := len(p.history) - p.limit; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
	p.total++
	return nil
}

// History returns the retained presentations, oldest first.
func (p *LogPresenter) History() []Presentation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Presentation, len(p.history))
	copy(out, p.history)
	return out
}

// Count returns the number of presentations rendered so far, including those
// dropped from the history.
func (p *LogPresenter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
