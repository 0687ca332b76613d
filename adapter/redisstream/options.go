package redisstream

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xevent"
	"github.com/trickstertwo/xlog"
)

// Option configures the xevent.Bus construction when calling Use.
type Option func(*xevent.BusBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xevent.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xevent.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *xevent.BusBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...xevent.Middleware) Option {
	return func(b *xevent.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithSinkTimeout bounds each sink write.
func WithSinkTimeout(d time.Duration) Option {
	return func(b *xevent.BusBuilder) { b.WithSinkTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xevent.Observer) Option {
	return func(b *xevent.BusBuilder) { b.WithObserver(obs...) }
}
