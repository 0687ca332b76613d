package xevent

import (
	"reflect"
	"time"
)

// EventType enumerates internal lifecycle events for the Observer pattern.
type EventType string

const (
	Posted      EventType = "posted"
	InvokeStart EventType = "invoke_start"
	InvokeDone  EventType = "invoke_done"
	Completed   EventType = "completed"
	Dead        EventType = "dead"
	SinkError   EventType = "sink_error"
)

// Event carries telemetry for observers.
type Event struct {
	Type       EventType
	Serial     uint64
	EventName  string
	Subscriber string
	Method     string
	Duration   time.Duration
	Err        error
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	Panicked     uint64 // Observer panics recovered
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the bus.
type Metrics struct {
	Posted              uint64
	Dead                uint64
	Invocations         uint64
	Failures            uint64
	Panics              uint64
	Completed           uint64
	SinkErrors          uint64
	CallbackPanics      uint64
	Subscribers         int
	QueuedTasks         int
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates bus health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// eventName is the name observers and sinks use for an event type.
func eventName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}
