package xevent

import (
	"reflect"
	"runtime"
	"sync"
	"unsafe"
	"weak"
)

// subscriberKey identifies a subscriber object without keeping it alive.
type subscriberKey struct {
	addr uintptr
	typ  reflect.Type
}

// keyOf validates target and returns its identity and address. Subscribers must be
// non-nil pointers to heap values with a non-zero size.
func keyOf(target any) (subscriberKey, *byte, error) {
	if target == nil {
		return subscriberKey{}, nil, &SubscriptionError{Reason: "nil subscriber"}
	}
	v := reflect.ValueOf(target)
	switch {
	case v.Kind() != reflect.Pointer:
		return subscriberKey{}, nil, &SubscriptionError{Type: v.Type(), Reason: "subscriber must be a pointer"}
	case v.IsNil():
		return subscriberKey{}, nil, &SubscriptionError{Type: v.Type(), Reason: "nil subscriber pointer"}
	case v.Type().Elem().Size() == 0:
		return subscriberKey{}, nil, &SubscriptionError{Type: v.Type(), Reason: "zero-size subscribers have no identity"}
	}
	p := (*byte)(v.UnsafePointer())
	return subscriberKey{addr: uintptr(unsafe.Pointer(p)), typ: v.Type()}, p, nil
}

// submission is one unit of per-subscriber work. start must call finish exactly once;
// discard releases work that will never start.
type submission struct {
	start   func(finish func())
	discard func()
}

// subscriber holds one subscribed object weakly, plus a strong reference while it is
// subscribed strongly. Submissions of one subscriber never overlap.
type subscriber struct {
	key           subscriberKey
	ref           weak.Pointer[byte]
	subscriptions []*Subscription
	sequential    bool

	mu      sync.Mutex
	strong  any
	queue   []submission
	running bool
	cleanup runtime.Cleanup
}

func newSubscriber(key subscriberKey, p *byte, subs []*Subscription, sequential bool) *subscriber {
	return &subscriber{
		key:           key,
		ref:           weak.Make(p),
		subscriptions: subs,
		sequential:    sequential,
	}
}

// target returns the subscribed object while it is reachable.
func (s *subscriber) target() (any, bool) {
	p := s.ref.Value()
	if p == nil {
		return nil, false
	}
	return reflect.NewAt(s.key.typ.Elem(), unsafe.Pointer(p)).Interface(), true
}

func (s *subscriber) alive() bool { return s.ref.Value() != nil }

// hold switches between strong and weak retention.
func (s *subscriber) hold(target any, strong bool) {
	s.mu.Lock()
	if strong {
		s.strong = target
	} else {
		s.strong = nil
	}
	s.mu.Unlock()
}

// enqueue runs sub now when the subscriber is idle, or queues it behind the running
// submission. A collected subscriber drops sub and everything queued.
func (s *subscriber) enqueue(sub submission) {
	s.mu.Lock()
	if !s.alive() {
		dropped := s.queue
		s.queue = nil
		s.mu.Unlock()
		discardAll(dropped)
		sub.discard()
		return
	}
	if s.running {
		s.queue = append(s.queue, sub)
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	sub.start(s.finalizeSubmission)
}

// finalizeSubmission is the only place that advances the queue. It is called once
// per submission, when that submission finished.
func (s *subscriber) finalizeSubmission() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.running = false
		s.mu.Unlock()
		return
	}
	if !s.alive() {
		dropped := s.queue
		s.queue = nil
		s.running = false
		s.mu.Unlock()
		discardAll(dropped)
		return
	}
	next := s.queue[0]
	s.queue[0] = submission{}
	s.queue = s.queue[1:]
	s.mu.Unlock()
	next.start(s.finalizeSubmission)
}

// drop discards queued submissions. The running one, if any, finishes normally.
func (s *subscriber) drop() {
	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()
	discardAll(dropped)
}

func discardAll(subs []submission) {
	for _, sub := range subs {
		if sub.discard != nil {
			sub.discard()
		}
	}
}
