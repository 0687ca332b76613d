package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xevent"
	"github.com/trickstertwo/xlog"
)

// Use builds a Bus recording dead events and handler failures in an in-memory
// sink, installs it as the default and returns both.
//
// Example:
//
//	bus, sink := memory.Use(memory.Config{Capacity: 4096},
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
func Use(cfg Config, opts ...Option) (*xevent.Bus, *Sink) {
	sink := NewSink(cfg)
	bb := xevent.NewBusBuilder().WithSinkInstance(sink)

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	// Install as process-wide default
	xevent.SetDefault(bus)
	return bus, sink
}

// Option configures the xevent.Bus when calling Use.
type Option func(*xevent.BusBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xevent.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xevent.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xevent.BusBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds handler middlewares (retry, timeout, etc).
func WithMiddleware(mw ...xevent.Middleware) Option {
	return func(b *xevent.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithWorkers sizes the delivery pool.
func WithWorkers(n int) Option {
	return func(b *xevent.BusBuilder) { b.WithWorkers(n) }
}

// WithOrdering selects the delivery queue ordering.
func WithOrdering(o xevent.Ordering) Option {
	return func(b *xevent.BusBuilder) { b.WithOrdering(o) }
}

// WithSinkTimeout bounds sink writes (default: 5s).
func WithSinkTimeout(d time.Duration) Option {
	return func(b *xevent.BusBuilder) { b.WithSinkTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xevent.Observer) Option {
	return func(b *xevent.BusBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xevent.BusBuilder) { b.WithObserverPool(workers, bufferSize) }
}
