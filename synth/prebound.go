package synth

import (
	"fmt"
	"reflect"
	"sync"
)

// PreboundValues carries runtime values into a generated class's static state. Values
// are staged by name before the class is defined and the whole set is then bound to
// exactly one class.
type PreboundValues struct {
	mu     sync.RWMutex
	values map[string]any
	class  *Class
}

func newPreboundValues() *PreboundValues {
	return &PreboundValues{values: make(map[string]any)}
}

// Put stages a value. Putting the same value twice is a no-op; a different value under
// an existing name fails.
func (p *PreboundValues) Put(name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.values[name]; ok {
		if sameValue(old, value) {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrPreboundConflict, name)
	}
	if p.class != nil {
		return fmt.Errorf("%w: cannot add %q after binding to %s", ErrAlreadyBound, name, p.class.name)
	}
	p.values[name] = value
	return nil
}

// Get returns the value bound under name.
func (p *PreboundValues) Get(name string) (any, error) {
	p.mu.RLock()
	v, ok := p.values[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnboundValue, name)
	}
	return v, nil
}

// MustGet is Get for generated code, where an unbound name is a generator bug.
func (p *PreboundValues) MustGet(name string) any {
	v, err := p.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Names returns the staged names.
func (p *PreboundValues) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	return names
}

// Class returns the class the values are bound to, or nil.
func (p *PreboundValues) Class() *Class {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.class
}

func (p *PreboundValues) bind(c *Class) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.class != nil {
		if p.class == c {
			return nil
		}
		return fmt.Errorf("%w: to %s", ErrAlreadyBound, p.class.name)
	}
	p.class = c
	return nil
}

// unbind releases a binding to c, leaving bindings to other classes untouched.
func (p *PreboundValues) unbind(c *Class) {
	p.mu.Lock()
	if p.class == c {
		p.class = nil
	}
	p.mu.Unlock()
}

// sameValue compares values that may not be comparable with ==.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	if va.Comparable() && vb.Comparable() {
		return va.Equal(vb)
	}
	return reflect.DeepEqual(a, b)
}
