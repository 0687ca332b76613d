package xevent

import (
	"errors"
	"sort"
	"sync"
)

// SinkFactory constructs sinks from a config blob.
type SinkFactory func(cfg map[string]any) (Sink, error)

var (
	sinkRegistryMu sync.RWMutex
	sinkRegistry   = map[string]SinkFactory{}
)

// RegisterSink registers a sink adapter.
func RegisterSink(name string, factory SinkFactory) error {
	if name == "" {
		return errors.New("sink name must not be empty")
	}
	if factory == nil {
		return errors.New("sink factory must not be nil")
	}
	sinkRegistryMu.Lock()
	sinkRegistry[name] = factory
	sinkRegistryMu.Unlock()
	return nil
}

// NewSink constructs a sink by name with config.
func NewSink(name string, cfg map[string]any) (Sink, error) {
	sinkRegistryMu.RLock()
	f, ok := sinkRegistry[name]
	sinkRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownSink{name: name}
	}
	return f(cfg)
}

// Sinks lists the registered sink names.
func Sinks() []string {
	sinkRegistryMu.RLock()
	defer sinkRegistryMu.RUnlock()
	names := make([]string, 0, len(sinkRegistry))
	for n := range sinkRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
