package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xevent"
)

// Adapter: Redis Streams Sink (Strategy + Adapter patterns)

const SinkName = "redis-streams"

func init() {
	if err := xevent.RegisterSink(SinkName, func(cfg map[string]any) (xevent.Sink, error) {
		return NewSink(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevent: failed to register sink %q: %w", SinkName, err))
	}
}

// Use builds a Bus writing dead events and handler failures to Redis Streams,
// sets it as the default Bus, then returns it.
// Mirrors xlog/xclock "Use" behavior: explicit construction and global install.
func Use(cfg Config, opts ...Option) *xevent.Bus {
	bb := xevent.NewBusBuilder().
		WithSink(SinkName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}

	// Install as process-wide default (replaces any existing default).
	xevent.SetDefault(bus)
	return bus
}
