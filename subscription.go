package xevent

import (
	"fmt"
	"reflect"
)

// Subscription pairs an event type with one handler of a subscriber. It is built at
// subscribe time and never changes.
type Subscription struct {
	eventType reflect.Type
	method    string
	bind      func(target any, b *Bus) (HandlerFunc, error)
}

// EventType returns the type of events delivered to this subscription.
func (s *Subscription) EventType() reflect.Type { return s.eventType }

// Method returns the handler method name.
func (s *Subscription) Method() string { return s.method }

// Matches reports whether events of type t are delivered to s: t is the subscribed
// type, or the subscribed type is an interface t implements.
func (s *Subscription) Matches(t reflect.Type) bool {
	if t == s.eventType {
		return true
	}
	return s.eventType.Kind() == reflect.Interface && t.Implements(s.eventType)
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s(%v)", s.method, s.eventType)
}

func handlerSubscription(target any) (*Subscription, error) {
	et := anyType
	if th, ok := target.(TypedHandler); ok {
		et = th.EventType()
		if et == nil {
			return nil, &SubscriptionError{Type: reflect.TypeOf(target), Method: "EventType", Reason: "nil event type"}
		}
		if reason := checkEventType(et); reason != "" {
			return nil, &SubscriptionError{Type: reflect.TypeOf(target), Method: "EventType", Reason: reason}
		}
	}
	return &Subscription{
		eventType: et,
		method:    "Handle",
		bind: func(target any, _ *Bus) (HandlerFunc, error) {
			return target.(Handler).Handle, nil
		},
	}, nil
}
