package xevent

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrBusClosed is returned when posting to or subscribing on a closed bus.
	ErrBusClosed = errors.New("xevent: bus closed")
	// ErrNilEvent is returned when posting a nil event.
	ErrNilEvent = errors.New("xevent: nil event")
	// ErrIllegalState reports a broken completion state machine. It is raised by panic.
	ErrIllegalState = errors.New("xevent: illegal completion state")
	// ErrAwaitTimeout is returned by timed awaits that elapse before delivery completes.
	ErrAwaitTimeout = errors.New("xevent: await timed out")
	// ErrHandlerPanic marks errors produced from a recovered handler panic.
	ErrHandlerPanic = errors.New("xevent: handler panic")
	// ErrInvalidSubscriber is the sentinel every SubscriptionError matches.
	ErrInvalidSubscriber = errors.New("xevent: invalid subscriber")
	// ErrObserverPoolShutdownTimeout is returned when observers do not drain in time.
	ErrObserverPoolShutdownTimeout = errors.New("xevent: observer pool shutdown timeout")
)

// ErrUnknownSink is returned by NewSink for unregistered sink names.
type ErrUnknownSink struct{ name string }

func (e ErrUnknownSink) Error() string { return fmt.Sprintf("xevent: unknown sink: %s", e.name) }

// SubscriptionError reports a subscriber that cannot be registered. It is raised at
// subscribe time so malformed subscribers fail fast.
type SubscriptionError struct {
	Type   reflect.Type
	Method string
	Reason string
}

func (e *SubscriptionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("xevent: invalid subscriber %v: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("xevent: invalid subscriber method %v.%s: %s", e.Type, e.Method, e.Reason)
}

func (e *SubscriptionError) Is(target error) bool { return target == ErrInvalidSubscriber }

// HandlerError wraps an error returned by one handler invocation.
type HandlerError struct {
	Subscriber reflect.Type
	Method     string
	Event      reflect.Type
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("xevent: %v.%s(%v): %v", e.Subscriber, e.Method, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("xevent: handler panic: %v", e.Value) }

func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
