package annotation

import (
	"fmt"
	"reflect"

	"github.com/trickstertwo/xevent/synth"
)

// Builder assembles one annotation instance of type A attribute by attribute.
//
//	a, err := annotation.Build[Route]().
//		Set(func(r *Route) any { return &r.Path }, "/orders").
//		Get()
type Builder[A any] struct {
	s     *Synthesizer
	pairs []any
	err   error
}

// Build starts a builder on the default synthesizer.
func Build[A any]() *Builder[A] { return BuildWith[A](Default()) }

// BuildWith starts a builder on s.
func BuildWith[A any](s *Synthesizer) *Builder[A] {
	return &Builder[A]{s: s}
}

// Set records value for the attribute selected by selector. The selector receives a
// probe and must return the address of one of its attribute fields.
func (b *Builder[A]) Set(selector func(*A) any, value any) *Builder[A] {
	if b.err != nil {
		return b
	}
	name, err := selectAttribute(selector)
	if err != nil {
		b.err = err
		return b
	}
	b.pairs = append(b.pairs, name, value)
	return b
}

// Get synthesizes the instance.
func (b *Builder[A]) Get() (*Annotation, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.s.New(reflect.TypeFor[A](), b.pairs...)
}

// MustGet is Get for static declarations.
func (b *Builder[A]) MustGet() *Annotation {
	a, err := b.Get()
	if err != nil {
		panic(err)
	}
	return a
}

// selectAttribute runs selector against a probe and matches the returned address to a
// top-level attribute field.
func selectAttribute[A any](selector func(*A) any) (string, error) {
	t := reflect.TypeFor[A]()
	if selector == nil {
		return "", fmt.Errorf("%w: nil attribute selector for %s", synth.ErrIllegalArgument, t)
	}
	attrs, err := inspect(t)
	if err != nil {
		return "", err
	}
	probe := new(A)
	got := reflect.ValueOf(selector(probe))
	if !got.IsValid() || got.Kind() != reflect.Pointer || got.IsNil() {
		return "", fmt.Errorf("%w: selector for %s must return a field address, got %v", synth.ErrIllegalArgument, t, got)
	}
	pv := reflect.ValueOf(probe).Elem()
	for _, a := range attrs {
		if len(a.index) != 1 {
			continue
		}
		f := pv.Field(a.index[0])
		if f.Addr().Pointer() == got.Pointer() && got.Type().Elem() == a.typ {
			return a.name, nil
		}
	}
	return "", fmt.Errorf("%w: selector for %s does not return an attribute field", synth.ErrIllegalArgument, t)
}
