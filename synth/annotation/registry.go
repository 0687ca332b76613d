package annotation

import (
	"fmt"
	"reflect"
	"sync"
)

// Annotated is implemented by types that declare their own annotations. It is called
// on the zero value, so implementations must use a value receiver and return constant
// data.
type Annotated interface {
	Annotations() []any
}

// Registry associates annotations with Go types. Declared annotations and those a type
// returns from Annotations are merged and cached per type.
type Registry struct {
	s        *Synthesizer
	mu       sync.Mutex
	declared map[reflect.Type][]*Annotation
	resolved sync.Map // reflect.Type -> []*Annotation
}

// NewRegistry returns a registry synthesizing through s.
func NewRegistry(s *Synthesizer) *Registry {
	if s == nil {
		s = Default()
	}
	return &Registry{s: s, declared: make(map[reflect.Type][]*Annotation)}
}

// Declare attaches annotations to t. Values are annotation struct values or instances.
// A type carries at most one annotation of each annotation type.
func (r *Registry) Declare(t reflect.Type, values ...any) error {
	t = baseType(t)
	if t == nil {
		return fmt.Errorf("%w: nil type", ErrNotAnnotation)
	}
	anns := make([]*Annotation, 0, len(values))
	for _, v := range values {
		a, err := r.s.Of(v)
		if err != nil {
			return err
		}
		anns = append(anns, a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := append([]*Annotation(nil), r.declared[t]...)
	for _, a := range anns {
		for _, existing := range merged {
			if existing.Type() == a.Type() {
				return fmt.Errorf("%w: %s already annotated with %s", ErrDuplicateAnnotation, t, a.Type())
			}
		}
		merged = append(merged, a)
	}
	r.declared[t] = merged
	r.resolved.Delete(t)
	return nil
}

// All returns the annotations of t.
func (r *Registry) All(t reflect.Type) ([]*Annotation, error) {
	t = baseType(t)
	if t == nil {
		return nil, nil
	}
	if v, ok := r.resolved.Load(t); ok {
		return v.([]*Annotation), nil
	}
	var self []*Annotation
	if t.Implements(annotatedType) {
		for _, v := range reflect.Zero(t).Interface().(Annotated).Annotations() {
			a, err := r.s.Of(v)
			if err != nil {
				return nil, fmt.Errorf("annotation: %s.Annotations: %w", t, err)
			}
			self = append(self, a)
		}
	}

	// Declare invalidates under mu, so the cache is filled under mu too.
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.resolved.Load(t); ok {
		return v.([]*Annotation), nil
	}
	anns := append([]*Annotation(nil), r.declared[t]...)
	for _, a := range self {
		if !containsType(anns, a.Type()) {
			anns = append(anns, a)
		}
	}
	r.resolved.Store(t, anns)
	return anns, nil
}

// Lookup returns the annotation of type ann on t.
func (r *Registry) Lookup(t, ann reflect.Type) (*Annotation, bool) {
	anns, err := r.All(t)
	if err != nil {
		return nil, false
	}
	for _, a := range anns {
		if a.Type() == ann {
			return a, true
		}
	}
	return nil, false
}

// Has reports whether t carries an annotation of type ann.
func (r *Registry) Has(t, ann reflect.Type) bool {
	_, ok := r.Lookup(t, ann)
	return ok
}

// Lookup returns the annotation A on t materialised as a value.
func Lookup[A any](r *Registry, t reflect.Type) (A, bool) {
	var zero A
	a, ok := r.Lookup(t, reflect.TypeFor[A]())
	if !ok {
		return zero, false
	}
	return As[A](a)
}

var annotatedType = reflect.TypeFor[Annotated]()

func baseType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func containsType(anns []*Annotation, t reflect.Type) bool {
	for _, a := range anns {
		if a.Type() == t {
			return true
		}
	}
	return false
}
