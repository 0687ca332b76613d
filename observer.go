package xevent

import (
	"strconv"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits bus lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("serial", strconv.FormatUint(e.Serial, 10)),
		xlog.Str("event_name", e.EventName),
	)
	if e.Subscriber != "" {
		ev = ev.With(xlog.Str("subscriber", e.Subscriber), xlog.Str("method", e.Method))
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch {
	case e.Type == SinkError, e.Err != nil:
		ev.Warn().Err(e.Err).Msg("xevent event")
	case e.Type == Dead:
		ev.Info().Msg("xevent dead event")
	default:
		ev.Debug().Msg("xevent event")
	}
}
