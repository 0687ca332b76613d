package xevent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// notification is one lifecycle event together with the observers registered when it
// was raised.
type notification struct {
	event     Event
	observers []Observer
}

// ObserverPool runs observers on its own workers so they never execute on posting or
// handler goroutines. Notify never blocks: when the buffer is full the event is dropped
// and counted.
type ObserverPool struct {
	queue   chan notification
	quit    chan struct{}
	workers int
	logger  *xlog.Logger

	wg     sync.WaitGroup
	closed atomic.Bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
}

// NewObserverPool starts workers goroutines reading from a buffer of bufferSize
// notifications. Non-positive sizes fall back to 4 workers and 1024 slots. Observer
// panics are recovered and logged to logger when it is non-nil.
func NewObserverPool(workers, bufferSize int, logger *xlog.Logger) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1024
	}
	op := &ObserverPool{
		queue:   make(chan notification, bufferSize),
		quit:    make(chan struct{}),
		workers: workers,
		logger:  logger,
	}
	op.wg.Add(workers)
	for range workers {
		go op.run()
	}
	return op
}

// Notify queues e for observers. The slice is copied, so later AddObserver or
// RemoveObserver calls do not affect a queued event.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	n := notification{event: e, observers: append([]Observer(nil), observers...)}
	select {
	case op.queue <- n:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case n := <-op.queue:
			op.deliver(n)
		case <-op.quit:
			// Events queued before Close still reach observers.
			for {
				select {
				case n := <-op.queue:
					op.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (op *ObserverPool) deliver(n notification) {
	for _, obs := range n.observers {
		if obs != nil {
			op.call(obs, n.event)
		}
	}
	op.delivered.Add(1)
}

func (op *ObserverPool) call(obs Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			op.panicked.Add(1)
			if op.logger != nil {
				op.logger.Error().
					Str("observer", fmt.Sprintf("%T", obs)).
					Str("type", string(e.Type)).
					Str("panic", fmt.Sprint(r)).
					Msg("xevent: observer panic (recovered)")
			}
		}
	}()
	obs.OnEvent(e)
}

// Close stops accepting events and waits for the workers to drain the buffer. It
// returns ErrObserverPoolShutdownTimeout when ctx ends first. Later calls return nil.
func (op *ObserverPool) Close(ctx context.Context) error {
	if op.closed.Swap(true) {
		return nil
	}
	close(op.quit)

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrObserverPoolShutdownTimeout, ctx.Err())
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.delivered.Load(),
		Panicked:     op.panicked.Load(),
		ActiveEvents: len(op.queue),
		Workers:      op.workers,
		BufferSize:   cap(op.queue),
	}
}
