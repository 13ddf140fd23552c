package dispatcher

import (
	"slices"
	"strings"
	"sync"
	"time"

	"axdispatch/pkg/logging"
)

// Metrics tracks dispatch outcomes per event type.
//
// Counters are kept per full event type so that a misbehaving handler can be
// narrowed down to the notifications that trip it up. The summary rolls
// them up into totals.
type Metrics struct {
	mu sync.RWMutex

	perType map[string]*eventTypeMetrics

	totalDispatched int64
	totalDelivered  int64
	totalSucceeded  int64
	totalRetried    int64
	totalExhausted  int64
	totalFailed     int64
	totalFiltered   int64
	totalSkipped    int64

	tasksRun    int64
	tasksFailed int64
}

type eventTypeMetrics struct {
	Dispatched int64
	Delivered  int64
	Succeeded  int64
	Retried    int64
	Exhausted  int64
	Failed     int64
	Filtered   int64
	Skipped    int64

	LastDispatchedAt time.Time
	LastFailureAt    time.Time
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{perType: make(map[string]*eventTypeMetrics)}
}

func (m *Metrics) getOrCreate(eventType string) *eventTypeMetrics {
	if em, ok := m.perType[eventType]; ok {
		return em
	}
	em := &eventTypeMetrics{}
	m.perType[eventType] = em
	return em
}

// RecordDispatched counts an event popped from the queue.
func (m *Metrics) RecordDispatched(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em := m.getOrCreate(eventType)
	em.Dispatched++
	em.LastDispatchedAt = time.Now()
	m.totalDispatched++
}

// RecordFiltered counts a cache-only event.
func (m *Metrics) RecordFiltered(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(eventType).Filtered++
	m.totalFiltered++
}

// RecordSkipped counts an event that reached no handler, either because
// none could be resolved or because the handler is not interested.
func (m *Metrics) RecordSkipped(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(eventType).Skipped++
	m.totalSkipped++
}

// RecordDelivered counts an event handed to a handler.
func (m *Metrics) RecordDelivered(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(eventType).Delivered++
	m.totalDelivered++
}

// RecordSucceeded counts an event the handler processed without error.
func (m *Metrics) RecordSucceeded(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(eventType).Succeeded++
	m.totalSucceeded++
}

// RecordRetried counts one retry of a transient failure.
func (m *Metrics) RecordRetried(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(eventType).Retried++
	m.totalRetried++
}

// RecordExhausted counts an event dropped after its last retry failed.
func (m *Metrics) RecordExhausted(eventType string, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em := m.getOrCreate(eventType)
	em.Exhausted++
	em.LastFailureAt = time.Now()
	m.totalExhausted++

	logging.Warn("DispatcherMetrics", "Retries exhausted for %s after %d attempts (exhausted: %d)",
		eventType, attempts, em.Exhausted)
}

// RecordFailed counts an event whose handler returned a non-transient error
// or panicked.
func (m *Metrics) RecordFailed(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em := m.getOrCreate(eventType)
	em.Failed++
	em.LastFailureAt = time.Now()
	m.totalFailed++
}

// RecordTask counts an internal task run.
func (m *Metrics) RecordTask(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksRun++
	if failed {
		m.tasksFailed++
	}
}

// Summary is a point-in-time view of the metrics.
type Summary struct {
	TotalDispatched int64 `json:"total_dispatched"`
	TotalDelivered  int64 `json:"total_delivered"`
	TotalSucceeded  int64 `json:"total_succeeded"`
	TotalRetried    int64 `json:"total_retried"`
	TotalExhausted  int64 `json:"total_exhausted"`
	TotalFailed     int64 `json:"total_failed"`
	TotalFiltered   int64 `json:"total_filtered"`
	TotalSkipped    int64 `json:"total_skipped"`
	TasksRun        int64 `json:"tasks_run"`
	TasksFailed     int64 `json:"tasks_failed"`

	PerEventType []EventTypeView `json:"per_event_type"`

	// FailureRate is the share of delivered events that were not processed
	// successfully in the end.
	FailureRate float64 `json:"failure_rate"`
}

// EventTypeView is a read-only view of the counters of one event type.
type EventTypeView struct {
	EventType        string    `json:"event_type"`
	Dispatched       int64     `json:"dispatched"`
	Delivered        int64     `json:"delivered"`
	Succeeded        int64     `json:"succeeded"`
	Retried          int64     `json:"retried"`
	Exhausted        int64     `json:"exhausted"`
	Failed           int64     `json:"failed"`
	Filtered         int64     `json:"filtered"`
	Skipped          int64     `json:"skipped"`
	LastDispatchedAt time.Time `json:"last_dispatched_at,omitempty"`
	LastFailureAt    time.Time `json:"last_failure_at,omitempty"`
}

// Summary returns the current totals and the per-type views sorted by
// event type.
func (m *Metrics) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalDispatched: m.totalDispatched,
		TotalDelivered:  m.totalDelivered,
		TotalSucceeded:  m.totalSucceeded,
		TotalRetried:    m.totalRetried,
		TotalExhausted:  m.totalExhausted,
		TotalFailed:     m.totalFailed,
		TotalFiltered:   m.totalFiltered,
		TotalSkipped:    m.totalSkipped,
		TasksRun:        m.tasksRun,
		TasksFailed:     m.tasksFailed,
		PerEventType:    make([]EventTypeView, 0, len(m.perType)),
	}
	for typ, em := range m.perType {
		s.PerEventType = append(s.PerEventType, EventTypeView{
			EventType:        typ,
			Dispatched:       em.Dispatched,
			Delivered:        em.Delivered,
			Succeeded:        em.Succeeded,
			Retried:          em.Retried,
			Exhausted:        em.Exhausted,
			Failed:           em.Failed,
			Filtered:         em.Filtered,
			Skipped:          em.Skipped,
			LastDispatchedAt: em.LastDispatchedAt,
			LastFailureAt:    em.LastFailureAt,
		})
	}
	slices.SortFunc(s.PerEventType, func(a, b EventTypeView) int {
		return strings.Compare(a.EventType, b.EventType)
	})

	if s.TotalDelivered > 0 {
		s.FailureRate = float64(s.TotalExhausted+s.TotalFailed) / float64(s.TotalDelivered)
	}
	return s
}

// EventType returns the view for one event type.
func (m *Metrics) EventType(eventType string) (EventTypeView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	em, ok := m.perType[eventType]
	if !ok {
		return EventTypeView{}, false
	}
	return EventTypeView{
		EventType:        eventType,
		Dispatched:       em.Dispatched,
		Delivered:        em.Delivered,
		Succeeded:        em.Succeeded,
		Retried:          em.Retried,
		Exhausted:        em.Exhausted,
		Failed:           em.Failed,
		Filtered:         em.Filtered,
		Skipped:          em.Skipped,
		LastDispatchedAt: em.LastDispatchedAt,
		LastFailureAt:    em.LastFailureAt,
	}, true
}
