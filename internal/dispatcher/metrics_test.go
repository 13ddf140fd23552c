package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Summary(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatched("focus:")
	m.RecordDelivered("focus:")
	m.RecordRetried("focus:")
	m.RecordExhausted("focus:", 2)

	m.RecordDispatched("object:state-changed:defunct")
	m.RecordFiltered("object:state-changed:defunct")

	m.RecordDispatched("window:activate")
	m.RecordDelivered("window:activate")
	m.RecordSucceeded("window:activate")

	m.RecordTask(false)
	m.RecordTask(true)

	s := m.Summary()
	assert.Equal(t, int64(3), s.TotalDispatched)
	assert.Equal(t, int64(2), s.TotalDelivered)
	assert.Equal(t, int64(1), s.TotalSucceeded)
	assert.Equal(t, int64(1), s.TotalRetried)
	assert.Equal(t, int64(1), s.TotalExhausted)
	assert.Equal(t, int64(1), s.TotalFiltered)
	assert.Equal(t, int64(2), s.TasksRun)
	assert.Equal(t, int64(1), s.TasksFailed)
	assert.InDelta(t, 0.5, s.FailureRate, 0.0001)

	require.Len(t, s.PerEventType, 3)
	assert.Equal(t, "focus:", s.PerEventType[0].EventType)
	assert.Equal(t, "object:state-changed:defunct", s.PerEventType[1].EventType)
	assert.Equal(t, "window:activate", s.PerEventType[2].EventType)
	assert.False(t, s.PerEventType[0].LastFailureAt.IsZero())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_exhausted":1`)
}

func TestMetrics_EventTypeUnknown(t *testing.T) {
	m := NewMetrics()
	_, ok := m.EventType("focus:")
	assert.False(t, ok)
	assert.Zero(t, m.Summary().FailureRate)
}
