package xevent

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xevent/synth"
	"github.com/trickstertwo/xevent/synth/annotation"
)

type sinkSpec struct {
	name string
	cfg  map[string]any
}

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	codecName string
	codecInst Codec

	sinkSpecs   []sinkSpec
	sinkInsts   []Sink
	sinkTimeout time.Duration

	workers         int
	ordering        Ordering
	observerWorkers int
	observerBuffer  int

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	synth       *synth.Synthesizer
	annotations *annotation.Registry
	err         error
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName:       "json",
		sinkTimeout:     5 * time.Second,
		workers:         runtime.GOMAXPROCS(0),
		ordering:        OrderFIFO,
		observerWorkers: 4,
		observerBuffer:  1024,
	}
}

// WithSink adds a registered sink by name.
func (bb *BusBuilder) WithSink(name string, cfg map[string]any) *BusBuilder {
	bb.sinkSpecs = append(bb.sinkSpecs, sinkSpec{name: name, cfg: cfg})
	return bb
}

// WithSinkInstance accepts a ready Sink instance (e.g., from adapter Use()).
func (bb *BusBuilder) WithSinkInstance(s Sink) *BusBuilder {
	if s != nil {
		bb.sinkInsts = append(bb.sinkInsts, s)
	}
	return bb
}

// WithSinkTimeout bounds each sink write.
func (bb *BusBuilder) WithSinkTimeout(d time.Duration) *BusBuilder {
	if d > 0 {
		bb.sinkTimeout = d
	}
	return bb
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

// WithWorkers sets the executor pool size. It is ignored with OrderNone.
func (bb *BusBuilder) WithWorkers(n int) *BusBuilder {
	if n > 0 {
		bb.workers = n
	}
	return bb
}

// WithOrdering selects the executor queue ordering.
func (bb *BusBuilder) WithOrdering(o Ordering) *BusBuilder {
	bb.ordering = o
	return bb
}

// WithObserverPool sizes the asynchronous observer pool.
func (bb *BusBuilder) WithObserverPool(workers, buffer int) *BusBuilder {
	bb.observerWorkers = workers
	bb.observerBuffer = buffer
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithSynthesizer sets the synthesizer handler adapters are generated with.
func (bb *BusBuilder) WithSynthesizer(s *synth.Synthesizer) *BusBuilder {
	bb.synth = s
	return bb
}

// WithAnnotations sets the registry consulted for Sequential, Async and Priority.
func (bb *BusBuilder) WithAnnotations(r *annotation.Registry) *BusBuilder {
	bb.annotations = r
	return bb
}

// WithConfig applies a loaded Config.
func (bb *BusBuilder) WithConfig(cfg Config) *BusBuilder {
	if err := cfg.Validate(); err != nil {
		bb.err = err
		return bb
	}
	o, _ := ParseOrdering(cfg.Ordering)
	bb.WithWorkers(cfg.Workers).WithOrdering(o).WithSinkTimeout(cfg.SinkTimeout)
	if cfg.Codec != "" {
		bb.WithCodec(cfg.Codec)
	}
	if cfg.ObserverWorkers > 0 || cfg.ObserverBuffer > 0 {
		bb.WithObserverPool(cfg.ObserverWorkers, cfg.ObserverBuffer)
	}
	if cfg.HandlerTimeout > 0 {
		bb.WithMiddleware(TimeoutMiddleware(cfg.HandlerTimeout))
	}
	if cfg.Retry.MaxAttempts > 1 {
		backoff := cfg.Retry.Backoff
		bb.WithMiddleware(RetryMiddleware(RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     func(int) time.Duration { return backoff },
			Jitter:      cfg.Retry.Jitter,
		}))
	}
	for _, s := range cfg.Sinks {
		bb.WithSink(s.Name, s.Options)
	}
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	if bb.err != nil {
		return nil, bb.err
	}
	ordering, err := ParseOrdering(string(bb.ordering))
	if err != nil {
		return nil, err
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	sinks := append([]Sink(nil), bb.sinkInsts...)
	for _, sc := range bb.sinkSpecs {
		s, err := NewSink(sc.name, sc.cfg)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}

	var clk xclock.Clock
	if bb.clock != nil {
		clk = bb.clock
	} else {
		clk = xclock.Default()
	}
	var lg *xlog.Logger
	if bb.logger != nil {
		lg = bb.logger
	} else {
		// Default to xlog new logger; Adapter pattern to platform logging.
		lg = xlog.Default()
	}
	anns := bb.annotations
	if anns == nil {
		anns = Annotations()
	}

	b := &Bus{
		handlers:     newHandlerSynthesizer(bb.synth),
		annotations:  anns,
		codec:        cd,
		clock:        clk,
		logger:       lg,
		middlewares:  bb.middlewares,
		sinks:        sinks,
		sinkTimeout:  bb.sinkTimeout,
		observerPool: NewObserverPool(bb.observerWorkers, bb.observerBuffer, lg),
		metrics:      &busMetrics{},
	}
	b.exec = newExecutor(bb.workers, ordering, func(r any) {
		lg.Error().Str("panic", fmt.Sprint(r)).Msg("xevent: executor task panic (recovered)")
	})

	// Attach logging observer first for dependable telemetry unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		b.AddObserver(LoggingObserver{Logger: lg})
	}

	// Attach any configured observers.
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

func closeSinks(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close(context.Background())
	}
}
