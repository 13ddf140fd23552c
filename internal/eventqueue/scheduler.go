package eventqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"axdispatch/internal/api"
	"axdispatch/pkg/logging"
)

// Mode selects how the queue is drained.
type Mode string

const (
	// Async drains on a dedicated runner goroutine; Enqueue never blocks on
	// processing.
	Async Mode = "async"
	// Sync drains inline on the producer that armed the drain.
	Sync Mode = "sync"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Async, Sync:
		return m, nil
	case "":
		return Async, nil
	}
	return "", fmt.Errorf("unknown scheduler mode %q", s)
}

// Consumer processes one item at a time. The scheduler guarantees Process is
// never called concurrently with itself.
type Consumer interface {
	Process(ctx context.Context, item Item)
}

// Scheduler drains a Queue into a Consumer, one item per tick.
//
// In async mode a single runner goroutine is woken when a push arms a drain
// and keeps ticking until the queue reports empty. In sync mode the producer
// whose push armed the drain runs the ticks itself; producers that push
// while a drain is in flight, including re-entrant pushes made from inside
// the consumer, only append and return.
type Scheduler struct {
	queue    *Queue
	mode     Mode
	consumer Consumer

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	// inline counts sync-mode drains running on producer goroutines
	inline     int
	inlineDone *sync.Cond

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler for queue.
func NewScheduler(queue *Queue, mode Mode, consumer Consumer) *Scheduler {
	if mode == "" {
		mode = Async
	}
	s := &Scheduler{
		queue:    queue,
		mode:     mode,
		consumer: consumer,
		wake:     make(chan struct{}, 1),
	}
	s.inlineDone = sync.NewCond(&s.mu)
	return s
}

// Mode returns the drain mode.
func (s *Scheduler) Mode() Mode {
	return s.mode
}

// Queue returns the underlying queue.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Start begins draining. Items pushed before Start are processed right away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	runCtx := s.ctx
	s.mu.Unlock()

	if s.mode == Async {
		s.wg.Add(1)
		go s.run(runCtx)
	}

	logging.Info("Scheduler", "Started in %s mode", s.mode)

	if s.queue.arm() {
		s.kick()
	}
	return nil
}

// Stop halts draining and waits for the runner to exit, or in sync mode for
// every producer still draining inline to finish its current item. Items
// still queued stay in the queue. Stop must not be called from the consumer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	for s.inline > 0 {
		s.inlineDone.Wait()
	}
	s.mu.Unlock()

	s.queue.disarm()

	logging.Info("Scheduler", "Stopped")
}

// Enqueue filters ev and appends it to the queue. Events rejected by the
// overflow policy return an error wrapping api.ErrQueueFull.
func (s *Scheduler) Enqueue(ev api.Event) error {
	armed, err := s.queue.push(ev)
	if err != nil {
		return err
	}
	if armed {
		s.kick()
	}
	return nil
}

// Submit appends an internal task that runs on the consumer path.
func (s *Scheduler) Submit(name string, fn TaskFunc) error {
	armed, err := s.queue.pushTask(name, fn)
	if err != nil {
		return err
	}
	if armed {
		s.kick()
	}
	return nil
}

// WaitIdle blocks until the queue is empty and nothing is being processed.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	return s.queue.waitIdle(ctx)
}

// kick starts a drain that has just been armed.
func (s *Scheduler) kick() {
	if s.mode == Sync {
		s.drainInline()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainInline runs a sync-mode drain on the calling goroutine. Stop waits
// for it to return.
func (s *Scheduler) drainInline() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.inline++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inline--
		if s.inline == 0 {
			s.inlineDone.Broadcast()
		}
		s.mu.Unlock()
	}()
	s.drain(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// drain ticks until the queue reports empty or ctx is cancelled.
func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil && s.tick(ctx) {
	}
}

// tick processes a single item. It returns false once the queue is empty,
// at which point the pending flag has been cleared.
func (s *Scheduler) tick(ctx context.Context) bool {
	item, ok := s.queue.pop()
	if !ok {
		return false
	}
	s.process(ctx, item)
	return true
}

func (s *Scheduler) process(ctx context.Context, item Item) {
	defer s.queue.markProcessed()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Scheduler", fmt.Errorf("panic: %v", r),
				"Consumer panicked on %s item\n%s", item.Disposition, debug.Stack())
		}
	}()

	s.consumer.Process(ctx, item)
}
