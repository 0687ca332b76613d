package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xevent"
)

const SinkName = "memory"

func init() {
	if err := xevent.RegisterSink(SinkName, func(cfg map[string]any) (xevent.Sink, error) {
		return NewSink(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xevent/memory: failed to register sink: %w", err))
	}
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("memory sink is closed")

// Config controls memory sink behavior.
type Config struct {
	// Capacity bounds the number of retained records; the oldest are evicted first (default: 1024).
	Capacity int
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	return Config{
		Capacity: max(1, getInt("capacity", 1024)),
	}
}

// Sink implements xevent.Sink by retaining records in a ring buffer (dev/testing).
type Sink struct {
	mu    sync.Mutex
	buf   []*xevent.Record
	head  int
	count int

	closed atomic.Bool

	metrics *sinkMetrics
}

type sinkMetrics struct {
	written atomic.Uint64
	evicted atomic.Uint64
}

var _ xevent.Sink = (*Sink)(nil)

// NewSink creates a new in-memory sink.
func NewSink(cfg Config) *Sink {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1024
	}
	return &Sink{
		buf:     make([]*xevent.Record, cfg.Capacity),
		metrics: &sinkMetrics{},
	}
}

// Write appends records, evicting the oldest once capacity is reached.
func (s *Sink) Write(ctx context.Context, records ...*xevent.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r == nil {
			continue
		}
		idx := (s.head + s.count) % len(s.buf)
		if s.count == len(s.buf) {
			s.head = (s.head + 1) % len(s.buf)
			s.metrics.evicted.Add(1)
		} else {
			s.count++
		}
		s.buf[idx] = r
		s.metrics.written.Add(1)
	}
	return nil
}

// Records returns the retained records, oldest first.
func (s *Sink) Records() []*xevent.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*xevent.Record, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.buf[(s.head+i)%len(s.buf)])
	}
	return out
}

// Len reports the number of retained records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reset drops every retained record.
func (s *Sink) Reset() {
	s.mu.Lock()
	clear(s.buf)
	s.head, s.count = 0, 0
	s.mu.Unlock()
}

// Close marks the sink closed. Retained records stay readable.
func (s *Sink) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

// Stats returns sink telemetry.
type Stats struct {
	Written uint64
	Evicted uint64
}

// Stats returns current sink metrics.
func (s *Sink) Stats() Stats {
	return Stats{
		Written: s.metrics.written.Load(),
		Evicted: s.metrics.evicted.Load(),
	}
}
