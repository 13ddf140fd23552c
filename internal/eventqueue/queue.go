package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"
)

// Disposition tells the consumer what to do with a popped Item.
type Disposition int

const (
	// Deliver items go through cache invalidation and on to a Handler.
	Deliver Disposition = iota
	// CacheOnly items update the node cache and are never seen by Handlers.
	CacheOnly
	// Task items carry an internal closure run on the consumer path.
	Task
)

func (d Disposition) String() string {
	switch d {
	case Deliver:
		return "deliver"
	case CacheOnly:
		return "cache-only"
	case Task:
		return "task"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// TaskFunc is an internal unit of work run by the consumer.
type TaskFunc func(ctx context.Context) error

// Item is one entry of the queue.
type Item struct {
	Disposition Disposition
	Event       api.Event

	TaskName string
	Task     TaskFunc

	EnqueuedAt time.Time
}

// OverflowPolicy decides what happens when an event arrives at a full queue.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop-oldest"
	DropNewest OverflowPolicy = "drop-newest"
	Block      OverflowPolicy = "block"
)

// ParseOverflowPolicy validates a policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, DropNewest, Block:
		return p, nil
	case "":
		return DropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

const (
	DefaultCapacity     = 4096
	DefaultBlockTimeout = 50 * time.Millisecond
)

// Options configures a Queue.
type Options struct {
	// Capacity bounds the number of Deliver items. Cache-only items and
	// tasks are never rejected or evicted for capacity reasons, so node
	// invalidations are never lost.
	Capacity int

	Overflow OverflowPolicy

	// BlockTimeout bounds how long a producer waits under the Block policy
	// before the event is dropped.
	BlockTimeout time.Duration

	// Desktop is the desktop root. children-changed:remove events from any
	// other source are cache-only.
	Desktop api.Ref
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Len        int   `json:"len"`
	HighWater  int   `json:"highWater"`
	Enqueued   int64 `json:"enqueued"`
	Filtered   int64 `json:"filtered"`
	CacheOnly  int64 `json:"cacheOnly"`
	Tasks      int64 `json:"tasks"`
	Overflowed int64 `json:"overflowed"`
	Processed  int64 `json:"processed"`
}

// Queue is a bounded FIFO of Items guarded by a single mutex. The same mutex
// guards the scheduler's pending flag, so "queue empty" and "no drain
// pending" are always observed together.
type Queue struct {
	mu sync.Mutex

	// items holds pending work in FIFO order
	items []Item

	// cond wakes blocked producers and WaitIdle callers
	cond *sync.Cond

	shuttingDown bool

	// pending is true while a drain is scheduled or running
	pending bool

	// started gates whether a push may arm a drain
	started bool

	opts  Options
	stats Stats
}

// New creates a queue. Zero option values fall back to defaults.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Overflow == "" {
		opts.Overflow = DropOldest
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = DefaultBlockTimeout
	}
	q := &Queue{
		items: make([]Item, 0, 64),
		opts:  opts,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Classify applies the enqueue-time filters to ev. It returns false for
// events that must be dropped outright. Keyboard events have no source
// object and always pass.
func Classify(ev api.Event, desktop api.Ref) (Disposition, bool) {
	if api.IsKeyboardEvent(ev) {
		return Deliver, true
	}
	if ev.Source.IsNil() {
		return 0, false
	}
	switch {
	case api.HasTypePrefix(ev.Type, api.EventStateChangedDefunct):
		return CacheOnly, true
	case api.HasTypePrefix(ev.Type, api.EventPropertyChangeParent):
		return CacheOnly, true
	case api.HasTypePrefix(ev.Type, api.EventChildrenChangedRemove) && ev.Source != desktop:
		return CacheOnly, true
	}
	return Deliver, true
}

// push filters ev and appends it. It reports whether the caller must start
// a drain.
func (q *Queue) push(ev api.Event) (bool, error) {
	disp, keep := Classify(ev, q.opts.Desktop)
	if !keep {
		q.mu.Lock()
		q.stats.Filtered++
		q.mu.Unlock()
		logging.Debug("EventQueue", "Dropping %s with nil source", ev.Type)
		return false, nil
	}
	return q.add(Item{Disposition: disp, Event: ev})
}

// pushTask appends an internal task. Tasks bypass the capacity bound.
func (q *Queue) pushTask(name string, fn TaskFunc) (bool, error) {
	return q.add(Item{Disposition: Task, TaskName: name, Task: fn})
}

func (q *Queue) add(item Item) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return false, api.ErrQueueShutdown
	}

	if item.Disposition == Deliver && q.deliverCountLocked() >= q.opts.Capacity {
		if err := q.makeRoomLocked(item); err != nil {
			return false, err
		}
		if q.shuttingDown {
			return false, api.ErrQueueShutdown
		}
	}

	item.EnqueuedAt = time.Now()
	q.items = append(q.items, item)
	q.stats.Enqueued++
	switch item.Disposition {
	case CacheOnly:
		q.stats.CacheOnly++
	case Task:
		q.stats.Tasks++
	}
	if len(q.items) > q.stats.HighWater {
		q.stats.HighWater = len(q.items)
	}

	if q.started && !q.pending {
		q.pending = true
		return true, nil
	}
	return false, nil
}

func (q *Queue) deliverCountLocked() int {
	n := 0
	for _, it := range q.items {
		if it.Disposition == Deliver {
			n++
		}
	}
	return n
}

// makeRoomLocked applies the overflow policy. It returns an error when the
// incoming item must be rejected.
func (q *Queue) makeRoomLocked(incoming Item) error {
	switch q.opts.Overflow {
	case DropOldest:
		for i, it := range q.items {
			if it.Disposition != Deliver {
				continue
			}
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.stats.Overflowed++
			logging.Warn("EventQueue", "Queue full (%d), dropped oldest %s", q.opts.Capacity, it.Event.Type)
			return nil
		}
	case Block:
		deadline := time.Now().Add(q.opts.BlockTimeout)
		for q.deliverCountLocked() >= q.opts.Capacity && !q.shuttingDown {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			timer := time.AfterFunc(remaining, func() {
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			})
			q.cond.Wait()
			timer.Stop()
		}
		if q.deliverCountLocked() < q.opts.Capacity || q.shuttingDown {
			return nil
		}
	}

	q.stats.Overflowed++
	logging.Warn("EventQueue", "Queue full (%d), dropped incoming %s", q.opts.Capacity, incoming.Event.Type)
	return fmt.Errorf("%s: %w", incoming.Event.Type, api.ErrQueueFull)
}

// pop removes the head item. When the queue is empty it clears the pending
// flag in the same critical section and returns false.
func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.pending = false
		q.cond.Broadcast()
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	q.cond.Broadcast()
	return item, true
}

func (q *Queue) markProcessed() {
	q.mu.Lock()
	q.stats.Processed++
	q.mu.Unlock()
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Len = len(q.items)
	return s
}

// Shutdown rejects further pushes and wakes every waiter. Items already
// queued are discarded.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}
	q.shuttingDown = true
	if n := len(q.items); n > 0 {
		logging.Debug("EventQueue", "Discarding %d queued items on shutdown", n)
	}
	q.items = nil
	q.pending = false
	q.cond.Broadcast()
}

// waitIdle blocks until nothing is queued and no drain is pending.
func (q *Queue) waitIdle(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for (len(q.items) > 0 || q.pending) && !q.shuttingDown {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Wake on cancellation as well as on queue progress.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)
	}
	return ctx.Err()
}

// arm marks the scheduler as started. It reports whether queued items need
// a drain.
func (q *Queue) arm() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.started = true
	if len(q.items) > 0 && !q.pending {
		q.pending = true
		return true
	}
	return false
}

func (q *Queue) disarm() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
	q.pending = false
	q.cond.Broadcast()
}
