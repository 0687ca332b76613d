package xevent

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xevent (prevents collisions).
type ctxKey string

const (
	busCtxKey    ctxKey = "xevent:bus"
	loggerCtxKey ctxKey = "xevent:logger"
	clockCtxKey  ctxKey = "xevent:clock"
	serialCtxKey ctxKey = "xevent:serial"
)

func injectBus(ctx context.Context, b *Bus) context.Context {
	if b == nil {
		return ctx
	}
	return context.WithValue(ctx, busCtxKey, b)
}

// BusFromContext returns the bus delivering the current event.
func BusFromContext(ctx context.Context) (*Bus, bool) {
	if v := ctx.Value(busCtxKey); v != nil {
		if b, ok := v.(*Bus); ok && b != nil {
			return b, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// SerialFromContext returns the serial of the event being handled.
func SerialFromContext(ctx context.Context) (uint64, bool) {
	s, ok := ctx.Value(serialCtxKey).(uint64)
	return s, ok
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, b *Bus, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectBus(ctx, b)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}

// handlerContext derives the context handlers see. Cancellation of the posting
// context does not reach handlers; values do.
func (b *Bus) handlerContext(ctx context.Context, serial uint64) context.Context {
	ctx = InjectAll(context.WithoutCancel(ctx), b, b.logger, b.clock)
	return context.WithValue(ctx, serialCtxKey, serial)
}
