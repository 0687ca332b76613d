package xevent

import (
	"context"
	"errors"
	"reflect"
	"runtime/debug"
	"sync/atomic"
)

// invocation is one handler call for one posted event.
type invocation struct {
	bus        *Bus
	ctx        context.Context
	event      any
	eventType  reflect.Type
	subscriber *subscriber
	sub        *Subscription
	completion *Completion
}

// run calls the handler and completes the invocation exactly once, whatever the
// handler does. A subscriber collected since post time is skipped.
func (inv *invocation) run() {
	target, ok := inv.subscriber.target()
	if !ok {
		inv.skip()
		return
	}
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		inv.finish(err)
	}()
	err = inv.call(target)
}

func (inv *invocation) call(target any) error {
	b := inv.bus
	h, err := inv.sub.bind(target, b)
	if err != nil {
		return err
	}
	h = Chain(RecoveryMiddleware()(h), b.middlewares...)

	name := eventName(inv.eventType)
	subscriberName := inv.subscriber.key.typ.String()
	b.notifyAsync(Event{Type: InvokeStart, Serial: inv.completion.serial, EventName: name, Subscriber: subscriberName, Method: inv.sub.method})
	start := b.clock.Now()
	err = h(inv.ctx, inv.event)
	d := b.clock.Since(start)
	b.recordProcessingTime(d.Nanoseconds())
	b.notifyAsync(Event{Type: InvokeDone, Serial: inv.completion.serial, EventName: name, Subscriber: subscriberName, Method: inv.sub.method, Duration: d, Err: err})
	return err
}

// finish reports the outcome to metrics and the completion.
func (inv *invocation) finish(err error) {
	b := inv.bus
	b.metrics.invocations.Add(1)
	if err != nil {
		b.metrics.failures.Add(1)
		if errors.Is(err, ErrHandlerPanic) {
			b.metrics.panics.Add(1)
			b.logger.Warn().
				Str("subscriber", inv.subscriber.key.typ.String()).
				Str("method", inv.sub.method).
				Err(err).
				Msg("xevent: handler panic (recovered)")
		}
		err = &HandlerError{
			Subscriber: inv.subscriber.key.typ,
			Method:     inv.sub.method,
			Event:      inv.eventType,
			Err:        err,
		}
	}
	inv.completion.invocationComplete(err)
}

// skip completes an invocation that will never run.
func (inv *invocation) skip() {
	inv.completion.invocationComplete(nil)
}

// submit hands one invocation to the executor directly.
func (b *Bus) submit(inv *invocation, meta eventMeta) {
	if err := b.exec.submit(meta.priority, inv.completion.serial, inv.run); err != nil {
		inv.finish(err)
	}
}

// sequentialSubmission runs invs in order as one task.
func (b *Bus) sequentialSubmission(invs []*invocation, meta eventMeta) submission {
	serial := invs[0].completion.serial
	return submission{
		start: func(finish func()) {
			err := b.exec.submit(meta.priority, serial, func() {
				defer finish()
				for _, inv := range invs {
					inv.run()
				}
			})
			if err != nil {
				for _, inv := range invs {
					inv.finish(err)
				}
				finish()
			}
		},
		discard: func() { skipAll(invs) },
	}
}

// parallelSubmission runs invs concurrently; the submission finishes when the last
// of them does.
func (b *Bus) parallelSubmission(invs []*invocation, meta eventMeta) submission {
	serial := invs[0].completion.serial
	return submission{
		start: func(finish func()) {
			var remaining atomic.Int32
			remaining.Store(int32(len(invs)))
			done := func() {
				if remaining.Add(-1) == 0 {
					finish()
				}
			}
			for _, inv := range invs {
				err := b.exec.submit(meta.priority, serial, func() {
					defer done()
					inv.run()
				})
				if err != nil {
					inv.finish(err)
					done()
				}
			}
		},
		discard: func() { skipAll(invs) },
	}
}

func skipAll(invs []*invocation) {
	for _, inv := range invs {
		inv.skip()
	}
}
