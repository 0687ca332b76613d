package xevent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Stage is the delivery stage of one posted event. Stages only move forward.
type Stage int32

const (
	// StageDelivery means invocations may still be scheduled or running.
	StageDelivery Stage = iota
	// StageCompletion means every invocation finished and callbacks are draining.
	StageCompletion
	// StageComplete is terminal. Callbacks registered now run inline.
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageDelivery:
		return "delivery"
	case StageCompletion:
		return "completion"
	case StageComplete:
		return "complete"
	}
	return fmt.Sprintf("stage(%d)", int32(s))
}

// Completion tracks the delivery of one posted event. Handler errors never reach the
// poster; they accumulate here.
type Completion struct {
	event  any
	serial uint64
	posted time.Time

	pending   atomic.Int64
	scheduled atomic.Bool
	sealed    atomic.Bool
	stage     atomic.Int32

	errMu sync.Mutex
	errs  error

	cbMu      sync.Mutex
	callbacks []func(*Completion)
	onPanic   func(c *Completion, r any)

	done chan struct{}
}

func newCompletion(event any, serial uint64, posted time.Time) *Completion {
	return &Completion{event: event, serial: serial, posted: posted, done: make(chan struct{})}
}

// Event returns the posted event.
func (c *Completion) Event() any { return c.event }

// Serial returns the per-bus serial assigned at post time.
func (c *Completion) Serial() uint64 { return c.serial }

// Stage returns the current stage.
func (c *Completion) Stage() Stage { return Stage(c.stage.Load()) }

// IsComplete reports whether delivery finished and every callback ran.
func (c *Completion) IsComplete() bool { return c.Stage() == StageComplete }

// IsDead reports whether the event completed without a single scheduled invocation.
func (c *Completion) IsDead() bool { return c.IsComplete() && !c.scheduled.Load() }

// Pending returns the number of invocations not yet finished.
func (c *Completion) Pending() int64 { return c.pending.Load() }

// Done is closed once the completion reaches StageComplete.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the combined handler errors so far, or nil.
func (c *Completion) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errs
}

// Errors returns every handler error so far.
func (c *Completion) Errors() []error { return multierr.Errors(c.Err()) }

// AfterCompletion queues fn until delivery completes, or runs it inline when the
// completion is already complete.
func (c *Completion) AfterCompletion(fn func(*Completion)) {
	if fn == nil {
		return
	}
	c.cbMu.Lock()
	if c.Stage() == StageComplete {
		c.cbMu.Unlock()
		fn(c)
		return
	}
	c.callbacks = append(c.callbacks, fn)
	c.cbMu.Unlock()
}

// Await blocks until the completion is complete or ctx is done.
func (c *Completion) Await(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitTimeout blocks for at most d. It returns ErrAwaitTimeout when d elapses first.
func (c *Completion) AwaitTimeout(d time.Duration) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		return nil
	case <-t.C:
		return fmt.Errorf("%w: event %d after %s", ErrAwaitTimeout, c.serial, d)
	}
}

// AwaitUninterruptibly blocks until the completion is complete.
func (c *Completion) AwaitUninterruptibly() *Completion {
	<-c.done
	return c
}

func (c *Completion) String() string {
	return fmt.Sprintf("completion(%d %T %s pending=%d)", c.serial, c.event, c.Stage(), c.pending.Load())
}

// schedule counts one invocation before it is dispatched.
func (c *Completion) schedule() {
	if c.sealed.Load() {
		panic(fmt.Errorf("%w: invocation scheduled after scheduling closed", ErrIllegalState))
	}
	c.scheduled.Store(true)
	c.pending.Add(1)
}

// allScheduled closes scheduling. It is called exactly once per post.
func (c *Completion) allScheduled() {
	if c.sealed.Swap(true) {
		panic(fmt.Errorf("%w: scheduling closed twice", ErrIllegalState))
	}
	c.tryComplete()
}

// invocationComplete records the end of one invocation.
func (c *Completion) invocationComplete(err error) {
	if c.sealed.Load() && c.pending.Load() <= 0 {
		panic(fmt.Errorf("%w: invocation completed on finished event %d", ErrIllegalState, c.serial))
	}
	if err != nil {
		c.errMu.Lock()
		c.errs = multierr.Append(c.errs, err)
		c.errMu.Unlock()
	}
	n := c.pending.Add(-1)
	if n < 0 {
		panic(fmt.Errorf("%w: negative pending count on event %d", ErrIllegalState, c.serial))
	}
	if n == 0 {
		c.tryComplete()
	}
}

func (c *Completion) tryComplete() {
	if !c.sealed.Load() || c.pending.Load() != 0 {
		return
	}
	if !c.stage.CompareAndSwap(int32(StageDelivery), int32(StageCompletion)) {
		return
	}
	for {
		c.cbMu.Lock()
		if len(c.callbacks) == 0 {
			c.stage.Store(int32(StageComplete))
			c.cbMu.Unlock()
			break
		}
		cbs := c.callbacks
		c.callbacks = nil
		c.cbMu.Unlock()
		for _, fn := range cbs {
			c.runCallback(fn)
		}
	}
	close(c.done)
}

func (c *Completion) runCallback(fn func(*Completion)) {
	defer func() {
		// A failing callback must not wedge the stage machine.
		if r := recover(); r != nil && c.onPanic != nil {
			c.onPanic(c, r)
		}
	}()
	fn(c)
}
