package xevent

import (
	"reflect"
	"sync"

	"github.com/trickstertwo/xevent/synth/annotation"
)

// Sequential marks a subscriber type whose invocations never run concurrently: all
// invocations for one event run in order, and events are handled in post order.
type Sequential struct{}

// Async marks an event type whose invocations bypass the per-subscriber queue of
// non-sequential subscribers and run independently.
type Async struct{}

// Priority ranks an event type on a bus using OrderPriority. Higher values run
// first. It is a scheduling hint only; sequential queues keep post order.
type Priority struct {
	Value int
}

var (
	sequentialType = reflect.TypeFor[Sequential]()
	asyncType      = reflect.TypeFor[Async]()
)

var (
	annotationsOnce sync.Once
	annotations     *annotation.Registry
)

// Annotations returns the process-wide registry buses consult by default.
func Annotations() *annotation.Registry {
	annotationsOnce.Do(func() {
		annotations = annotation.NewRegistry(annotation.Default())
	})
	return annotations
}

// Annotate declares annotations on the type of v in the default registry.
//
//	xevent.Annotate((*AuditLog)(nil), xevent.Sequential{})
//	xevent.Annotate(OrderPlaced{}, xevent.Async{}, xevent.Priority{Value: 10})
func Annotate(v any, values ...any) error {
	return Annotations().Declare(reflect.TypeOf(v), values...)
}

type eventMeta struct {
	async    bool
	priority int
}

func metaOf(r *annotation.Registry, t reflect.Type) eventMeta {
	m := eventMeta{async: r.Has(t, asyncType)}
	if p, ok := annotation.Lookup[Priority](r, t); ok {
		m.priority = p.Value
	}
	return m
}
