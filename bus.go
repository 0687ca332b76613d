package xevent

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.uber.org/multierr"

	"github.com/trickstertwo/xevent/synth/annotation"
)

// Bus delivers posted events to subscribers in parallel. Each Post returns a
// Completion; handler errors never reach the poster.
type Bus struct {
	subscribers sync.Map // subscriberKey -> *subscriber
	handlers    *handlerSynthesizer
	annotations *annotation.Registry
	exec        *executor
	serial      atomic.Uint64

	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	sinks        []Sink
	sinkTimeout  time.Duration
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *busMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

// busMetrics uses lock-free atomics for production-grade telemetry.
// observerDrainTimeout bounds the observer drain in Close when ctx has no deadline.
const observerDrainTimeout = 5 * time.Second

type busMetrics struct {
	posted       atomic.Uint64
	dead         atomic.Uint64
	invocations  atomic.Uint64
	failures     atomic.Uint64
	panics       atomic.Uint64
	completed    atomic.Uint64
	sinkErrors   atomic.Uint64
	cbPanics     atomic.Uint64
	processingNs atomic.Int64
}

// Codec returns the codec used to encode sink payloads.
func (b *Bus) Codec() Codec { return b.codec }

// Logger returns the bus logger.
func (b *Bus) Logger() *xlog.Logger { return b.logger }

// Annotations returns the registry consulted for Sequential, Async and Priority.
func (b *Bus) Annotations() *annotation.Registry { return b.annotations }

// Post delivers event to every matching subscription and returns its completion.
// Handler errors are collected on the completion; Post itself only fails for a
// closed bus or a nil event. Cancelling ctx does not cancel delivery.
func (b *Bus) Post(ctx context.Context, event any) (*Completion, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if event == nil {
		return nil, ErrNilEvent
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serial := b.serial.Add(1)
	et := reflect.TypeOf(event)
	c := newCompletion(event, serial, b.clock.Now())
	c.onPanic = b.callbackPanicked
	b.metrics.posted.Add(1)
	b.notifyAsync(Event{Type: Posted, Serial: serial, EventName: eventName(et)})

	meta := metaOf(b.annotations, et)
	hctx := b.handlerContext(ctx, serial)
	b.subscribers.Range(func(_, v any) bool {
		s := v.(*subscriber)
		if !s.alive() {
			b.purge(s)
			return true
		}
		b.deliver(hctx, c, s, et, meta)
		return true
	})
	c.AfterCompletion(b.completed)
	c.allScheduled()
	return c, nil
}

// deliver schedules the matching invocations of one subscriber.
func (b *Bus) deliver(ctx context.Context, c *Completion, s *subscriber, et reflect.Type, meta eventMeta) {
	var invs []*invocation
	for _, sub := range s.subscriptions {
		if sub.Matches(et) {
			invs = append(invs, &invocation{
				bus:        b,
				ctx:        ctx,
				event:      c.event,
				eventType:  et,
				subscriber: s,
				sub:        sub,
				completion: c,
			})
		}
	}
	if len(invs) == 0 {
		return
	}
	for range invs {
		c.schedule()
	}
	switch {
	case s.sequential:
		s.enqueue(b.sequentialSubmission(invs, meta))
	case meta.async:
		for _, inv := range invs {
			b.submit(inv, meta)
		}
	default:
		s.enqueue(b.parallelSubmission(invs, meta))
	}
}

// completed runs once per event before its completion opens.
func (b *Bus) completed(c *Completion) {
	b.metrics.completed.Add(1)
	name := eventName(reflect.TypeOf(c.event))
	dead := !c.scheduled.Load()
	if dead {
		b.metrics.dead.Add(1)
		b.notifyAsync(Event{Type: Dead, Serial: c.serial, EventName: name})
	}
	b.notifyAsync(Event{Type: Completed, Serial: c.serial, EventName: name, Duration: b.clock.Since(c.posted), Err: c.Err()})
	if len(b.sinks) == 0 {
		return
	}
	recs := b.records(c)
	if len(recs) == 0 {
		return
	}
	if err := b.writeSinks(recs); err != nil {
		b.metrics.sinkErrors.Add(1)
		b.notifyAsync(Event{Type: SinkError, Serial: c.serial, EventName: name, Err: err})
		b.logger.Warn().Err(err).Str("event", name).Msg("xevent: sink write failed")
	}
}

func (b *Bus) callbackPanicked(c *Completion, r any) {
	b.metrics.cbPanics.Add(1)
	b.logger.Error().
		Str("panic", fmt.Sprint(r)).
		Str("serial", strconv.FormatUint(c.serial, 10)).
		Str("event", eventName(reflect.TypeOf(c.event))).
		Msg("xevent: completion callback panic (recovered)")
}

// Subscribe registers subscriber and keeps it reachable until Unsubscribe or
// SubscribeWeakly. Subscribing an already subscribed object only restores the
// strong reference.
func (b *Bus) Subscribe(subscriber any) error { return b.subscribe(subscriber, true) }

// SubscribeWeakly registers subscriber without keeping it reachable. Once it is
// garbage collected its handlers stop receiving events and its entry is purged.
func (b *Bus) SubscribeWeakly(subscriber any) error { return b.subscribe(subscriber, false) }

func (b *Bus) subscribe(target any, strong bool) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	key, p, err := keyOf(target)
	if err != nil {
		return err
	}
	for {
		if v, ok := b.subscribers.Load(key); ok {
			s := v.(*subscriber)
			if s.alive() {
				s.hold(target, strong)
				return nil
			}
			b.purge(s)
		}
		subs, err := b.handlers.subscriptions(target)
		if err != nil {
			return err
		}
		s := newSubscriber(key, p, subs, b.annotations.Has(key.typ, sequentialType))
		s.hold(target, strong)
		s.cleanup = runtime.AddCleanup(p, b.collected, s)
		if _, loaded := b.subscribers.LoadOrStore(key, s); loaded {
			s.cleanup.Stop()
			continue
		}
		b.logger.Debug().Str("subscriber", key.typ.String()).Msg("xevent: subscribed")
		return nil
	}
}

// Unsubscribe removes subscriber. Work already scheduled for it still runs. It
// reports whether subscriber was subscribed.
func (b *Bus) Unsubscribe(subscriber any) bool {
	key, _, err := keyOf(subscriber)
	if err != nil {
		return false
	}
	v, ok := b.subscribers.LoadAndDelete(key)
	if !ok {
		return false
	}
	s := v.(*subscriber)
	s.cleanup.Stop()
	s.hold(nil, false)
	return true
}

// Subscriptions returns the subscriptions registered for subscriber.
func (b *Bus) Subscriptions(subscriber any) []*Subscription {
	key, _, err := keyOf(subscriber)
	if err != nil {
		return nil
	}
	v, ok := b.subscribers.Load(key)
	if !ok {
		return nil
	}
	return append([]*Subscription(nil), v.(*subscriber).subscriptions...)
}

// Subscribers returns the number of live subscribers, purging collected ones.
func (b *Bus) Subscribers() int {
	n := 0
	b.subscribers.Range(func(_, v any) bool {
		s := v.(*subscriber)
		if s.alive() {
			n++
		} else {
			b.purge(s)
		}
		return true
	})
	return n
}

// collected is the cleanup registered for every subscriber object.
func (b *Bus) collected(s *subscriber) {
	if b.subscribers.CompareAndDelete(s.key, s) {
		b.logger.Debug().Str("subscriber", s.key.typ.String()).Msg("xevent: subscriber collected")
	}
	s.drop()
}

func (b *Bus) purge(s *subscriber) {
	b.subscribers.CompareAndDelete(s.key, s)
	s.drop()
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	m := Metrics{
		Posted:              b.metrics.posted.Load(),
		Dead:                b.metrics.dead.Load(),
		Invocations:         b.metrics.invocations.Load(),
		Failures:            b.metrics.failures.Load(),
		Panics:              b.metrics.panics.Load(),
		Completed:           b.metrics.completed.Load(),
		SinkErrors:          b.metrics.sinkErrors.Load(),
		CallbackPanics:      b.metrics.cbPanics.Load(),
		QueuedTasks:         b.exec.queued(),
		AvgProcessingTimeMs: float64(b.metrics.processingNs.Load()) / 1e6,
	}
	b.subscribers.Range(func(_, _ any) bool {
		m.Subscribers++
		return true
	})
	if b.observerPool != nil {
		m.EventsDropped = b.observerPool.Stats().Dropped
	}
	return m
}

// Health checks bus health for Kubernetes probes.
// Implements HealthChecker interface.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: b.clock.Now(),
			Message:   "bus is closed",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	msg := ""

	// Degraded if handler failure rate > 5%
	if metrics.Failures > 0 && metrics.Invocations > 0 {
		rate := float64(metrics.Failures) / float64(metrics.Invocations)
		if rate > 0.05 {
			status = "degraded"
			msg = fmt.Sprintf("handler failure rate %.1f%%", rate*100)
		}
	}
	if metrics.SinkErrors > 0 && status == "healthy" {
		status = "degraded"
		msg = "sink writes failing"
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: b.clock.Now(),
		Message:   msg,
	}
}

// Close stops accepting posts and subscriptions, waits for scheduled work to drain
// (bounded by ctx), then closes sinks and the observer pool. It is idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)

		// 1. Drain the executor
		if err := b.exec.close(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("xevent: executor drain interrupted")
			closeErr = multierr.Append(closeErr, err)
		}

		// 2. Close sinks
		for _, s := range b.sinks {
			if err := s.Close(ctx); err != nil {
				b.logger.Error().Err(err).Msg("xevent: sink close failed")
				closeErr = multierr.Append(closeErr, err)
			}
		}

		// 3. Drain observer pool
		if b.observerPool != nil {
			octx, cancel := ctx, context.CancelFunc(func() {})
			if _, ok := ctx.Deadline(); !ok {
				octx, cancel = context.WithTimeout(ctx, observerDrainTimeout)
			}
			err := b.observerPool.Close(octx)
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Msg("xevent: observer pool shutdown timeout")
				closeErr = multierr.Append(closeErr, err)
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of non-comparable types (such as
// ObserverFunc) cannot be removed.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	if !reflect.TypeOf(obs).Comparable() {
		return
	}
	for i, o := range b.observers {
		if reflect.TypeOf(o).Comparable() && o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches events asynchronously (non-blocking).
func (b *Bus) notifyAsync(e Event) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	observerCount := len(b.observers)
	if observerCount == 0 {
		b.observersMu.RUnlock()
		return
	}

	if observerCount == 1 {
		obs := b.observers[0]
		b.observersMu.RUnlock()
		b.observerPool.Notify(e, []Observer{obs})
		return
	}

	observers := make([]Observer, observerCount)
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(e, observers)
}

// recordProcessingTime records processing time using exponential moving average.
func (b *Bus) recordProcessingTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := b.metrics.processingNs.Load()
	if current == 0 {
		b.metrics.processingNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	b.metrics.processingNs.Store(newAvg)
}
