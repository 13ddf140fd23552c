package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"axdispatch/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	desktop = api.Ref{Bus: ":1.0", Path: "/org/a11y/atspi/accessible/root"}
	button  = api.Ref{Bus: ":1.5", Path: "/button"}
)

// recordingConsumer records items and checks Process is never re-entered.
type recordingConsumer struct {
	mu       sync.Mutex
	items    []Item
	inFlight atomic.Int32
	overlap  atomic.Bool
	onItem   func(Item)
}

func (c *recordingConsumer) Process(ctx context.Context, item Item) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)

	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()

	if c.onItem != nil {
		c.onItem(item)
	}
}

func (c *recordingConsumer) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for _, it := range c.items {
		if it.Disposition == Task {
			out = append(out, "task:"+it.TaskName)
			continue
		}
		out = append(out, it.Event.Type)
	}
	return out
}

func (c *recordingConsumer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func ev(typ string) api.Event {
	return api.Event{Type: typ, Source: button}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		event    api.Event
		wantDisp Disposition
		wantKeep bool
	}{
		{"nil source", api.Event{Type: api.EventFocus}, 0, false},
		{"keyboard without source", api.Event{Type: api.EventKeyboardPress}, Deliver, true},
		{"focus", ev(api.EventFocus), Deliver, true},
		{"defunct", ev(api.EventStateChangedDefunct), CacheOnly, true},
		{"parent changed", ev(api.EventPropertyChangeParent), CacheOnly, true},
		{"name changed", ev(api.EventPropertyChangeName), Deliver, true},
		{"child removed below app", ev(api.EventChildrenChangedRemove), CacheOnly, true},
		{"child removed at desktop", api.Event{Type: api.EventChildrenChangedRemove, Source: desktop}, Deliver, true},
		{"child added", ev(api.EventChildrenChangedAdd), Deliver, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp, keep := Classify(tt.event, desktop)
			assert.Equal(t, tt.wantKeep, keep)
			if keep {
				assert.Equal(t, tt.wantDisp, disp)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)
	_, err = ParseOverflowPolicy("drop-everything")
	assert.Error(t, err)

	m, err := ParseMode("sync")
	require.NoError(t, err)
	assert.Equal(t, Sync, m)
	_, err = ParseMode("parallel")
	assert.Error(t, err)
}

func TestScheduler_SyncFIFO(t *testing.T) {
	c := &recordingConsumer{}
	s := NewScheduler(New(Options{Desktop: desktop}), Sync, c)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	types := []string{api.EventFocus, api.EventTextChanged + ":insert", api.EventStateChangedDefunct, api.EventWindowActivate}
	for _, typ := range types {
		require.NoError(t, s.Enqueue(ev(typ)))
	}
	require.NoError(t, s.Enqueue(api.Event{Type: api.EventFocus}))

	// Sync mode processes inline, so everything is done already.
	assert.Equal(t, types, c.Types())
	assert.Equal(t, 0, s.Queue().Len())

	stats := s.Queue().Stats()
	assert.Equal(t, int64(1), stats.Filtered)
	assert.Equal(t, int64(1), stats.CacheOnly)
	assert.Equal(t, int64(4), stats.Processed)
}

func TestScheduler_SyncReentrantEnqueue(t *testing.T) {
	c := &recordingConsumer{}
	s := NewScheduler(New(Options{}), Sync, c)
	c.onItem = func(it Item) {
		if it.Event.Type == api.EventWindowActivate {
			// A handler call stack that causes another event.
			require.NoError(t, s.Enqueue(ev(api.EventFocus)))
			require.NoError(t, s.Submit("follow-up", func(context.Context) error { return nil }))
		}
	}
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Enqueue(ev(api.EventWindowActivate))
		_ = s.Enqueue(ev(api.EventWindowDeactivate))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant enqueue deadlocked")
	}

	assert.Equal(t, []string{
		api.EventWindowActivate,
		api.EventFocus,
		"task:follow-up",
		api.EventWindowDeactivate,
	}, c.Types())
	assert.False(t, c.overlap.Load())
}

func TestScheduler_AsyncPerProducerFIFO(t *testing.T) {
	c := &recordingConsumer{}
	s := NewScheduler(New(Options{Capacity: 10000}), Async, c)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e := ev(api.EventTextCaretMoved)
				e.Detail1, e.Detail2 = p, i
				assert.NoError(t, s.Enqueue(e))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
	require.Equal(t, producers*perProducer, c.Len())

	last := make(map[int]int)
	c.mu.Lock()
	for _, it := range c.items {
		p, i := it.Event.Detail1, it.Event.Detail2
		if prev, seen := last[p]; seen {
			assert.Greater(t, i, prev, "producer %d out of order", p)
		}
		last[p] = i
	}
	c.mu.Unlock()
	assert.False(t, c.overlap.Load())
}

func TestScheduler_ItemsBeforeStart(t *testing.T) {
	c := &recordingConsumer{}
	s := NewScheduler(New(Options{}), Async, c)

	require.NoError(t, s.Enqueue(ev(api.EventFocus)))
	require.NoError(t, s.Enqueue(ev(api.EventWindowActivate)))
	assert.Equal(t, 2, s.Queue().Len())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return c.Len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_PanicDoesNotStopDrain(t *testing.T) {
	c := &recordingConsumer{}
	c.onItem = func(it Item) {
		if it.Event.Type == api.EventFocus {
			panic("handler bug")
		}
	}
	s := NewScheduler(New(Options{}), Sync, c)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Enqueue(ev(api.EventFocus)))
	require.NoError(t, s.Enqueue(ev(api.EventWindowActivate)))

	assert.Equal(t, []string{api.EventFocus, api.EventWindowActivate}, c.Types())
}

func TestScheduler_SyncStopWaitsForInlineDrain(t *testing.T) {
	release := make(chan struct{})
	c := &recordingConsumer{}
	c.onItem = func(it Item) {
		if it.Event.Type == "object:slow" {
			<-release
		}
	}
	q := New(Options{})
	s := NewScheduler(q, Sync, c)
	require.NoError(t, s.Start(context.Background()))

	go func() { _ = s.Enqueue(ev("object:slow")) }()
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an item was still being processed")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the drain finished")
	}
	assert.Equal(t, int64(1), q.Stats().Processed)
}

func TestQueue_Overflow(t *testing.T) {
	tests := []struct {
		policy    OverflowPolicy
		wantErr   bool
		wantTypes []string
	}{
		{DropOldest, false, []string{"object:b", "object:c"}},
		{DropNewest, true, []string{"object:a", "object:b"}},
		{Block, true, []string{"object:a", "object:b"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			c := &recordingConsumer{}
			q := New(Options{Capacity: 2, Overflow: tt.policy, BlockTimeout: 10 * time.Millisecond})
			s := NewScheduler(q, Sync, c)

			require.NoError(t, s.Enqueue(ev("object:a")))
			require.NoError(t, s.Submit("reconcile", func(context.Context) error { return nil }))
			require.NoError(t, s.Enqueue(ev("object:b")))

			err := s.Enqueue(ev("object:c"))
			if tt.wantErr {
				assert.ErrorIs(t, err, api.ErrQueueFull)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, int64(1), q.Stats().Overflowed)

			require.NoError(t, s.Start(context.Background()))
			defer s.Stop()

			var events []string
			for _, typ := range c.Types() {
				if typ != "task:reconcile" {
					events = append(events, typ)
				}
			}
			assert.Equal(t, tt.wantTypes, events)
			assert.Contains(t, c.Types(), "task:reconcile")
		})
	}
}

func TestQueue_OverflowKeepsCacheOnlyItems(t *testing.T) {
	for _, policy := range []OverflowPolicy{DropOldest, DropNewest, Block} {
		t.Run(string(policy), func(t *testing.T) {
			c := &recordingConsumer{}
			q := New(Options{Capacity: 1, Overflow: policy, BlockTimeout: 5 * time.Millisecond})
			s := NewScheduler(q, Sync, c)

			require.NoError(t, s.Enqueue(ev(api.EventStateChangedDefunct)))
			require.NoError(t, s.Enqueue(ev(api.EventFocus)))
			assert.Zero(t, q.Stats().Overflowed)

			// A full queue evicts or rejects delivery items only.
			_ = s.Enqueue(ev(api.EventWindowActivate))
			require.NoError(t, s.Enqueue(ev(api.EventPropertyChangeParent)))
			assert.Equal(t, int64(1), q.Stats().Overflowed)

			require.NoError(t, s.Start(context.Background()))
			defer s.Stop()

			types := c.Types()
			require.Len(t, types, 3)
			assert.Equal(t, api.EventStateChangedDefunct, types[0])
			assert.Equal(t, api.EventPropertyChangeParent, types[2])
			if policy == DropOldest {
				assert.Equal(t, api.EventWindowActivate, types[1])
			} else {
				assert.Equal(t, api.EventFocus, types[1])
			}
		})
	}
}

func TestQueue_BlockWaitsForRoom(t *testing.T) {
	release := make(chan struct{})
	c := &recordingConsumer{}
	c.onItem = func(it Item) {
		if it.Event.Type == "object:first" {
			<-release
		}
	}
	q := New(Options{Capacity: 1, Overflow: Block, BlockTimeout: 2 * time.Second})
	s := NewScheduler(q, Async, c)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Enqueue(ev("object:first")))
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Enqueue(ev("object:second")))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Enqueue(ev("object:third")) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-errCh)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
	assert.Equal(t, []string{"object:first", "object:second", "object:third"}, c.Types())
}

func TestQueue_Shutdown(t *testing.T) {
	q := New(Options{})
	s := NewScheduler(q, Async, &recordingConsumer{})

	require.NoError(t, s.Enqueue(ev(api.EventFocus)))
	q.Shutdown()
	q.Shutdown()

	assert.ErrorIs(t, s.Enqueue(ev(api.EventFocus)), api.ErrQueueShutdown)
	assert.ErrorIs(t, s.Submit("x", func(context.Context) error { return nil }), api.ErrQueueShutdown)
	assert.Equal(t, 0, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.WaitIdle(ctx))
}

func TestDisposition_String(t *testing.T) {
	for d, want := range map[Disposition]string{Deliver: "deliver", CacheOnly: "cache-only", Task: "task"} {
		assert.Equal(t, want, d.String())
	}
	assert.Equal(t, fmt.Sprintf("disposition(%d)", 9), Disposition(9).String())
}
