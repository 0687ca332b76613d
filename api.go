package xevent

import (
	"context"
	"reflect"
)

// Handler is the single-method subscriber contract. A subscriber type implements
// Handler or declares On* methods, never both.
type Handler interface {
	Handle(ctx context.Context, event any) error
}

// TypedHandler narrows a Handler to events assignable to EventType. Plain Handlers
// receive every event.
type TypedHandler interface {
	Handler
	EventType() reflect.Type
}

// HandlerFunc is one bound handler invocation target.
type HandlerFunc func(ctx context.Context, event any) error

// Middleware composes processing concerns around a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Codec is the Strategy for encoding event payloads handed to sinks.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives bus lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xevent surface for extensibility.
type API interface {
	Post(ctx context.Context, event any) (*Completion, error)
	Subscribe(subscriber any) error
	SubscribeWeakly(subscriber any) error
	Unsubscribe(subscriber any) bool
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ API           = (*Bus)(nil)
	_ HealthChecker = (*Bus)(nil)
)
