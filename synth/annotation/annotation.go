// Package annotation synthesizes implementations of annotation types at runtime.
//
// An annotation type is a named Go struct; its exported fields are the attributes and a
// `default:"..."` tag declares a default value. Instances are synthesized classes whose
// String, Equal and HashCode methods follow the annotation contract, so two instances
// built from the same attribute values are equal and hash alike regardless of how they
// were constructed.
package annotation

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/trickstertwo/xevent/synth"
	"github.com/trickstertwo/xevent/synth/cast"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotAnnotation reports a type that cannot be used as an annotation.
	ErrNotAnnotation = errors.New("annotation: not an annotation type")
	// ErrMissingAttribute reports an attribute with neither a value nor a default.
	ErrMissingAttribute = errors.New("annotation: missing attribute")
	// ErrUnknownAttribute reports a value for an attribute the type does not declare.
	ErrUnknownAttribute = errors.New("annotation: unknown attribute")
	// ErrDuplicateAnnotation reports a second annotation of one type on a type.
	ErrDuplicateAnnotation = errors.New("annotation: duplicate annotation")
)

// AttributeError names the attribute a construction failed on.
type AttributeError struct {
	Type      reflect.Type
	Attribute string
	Err       error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%v: %s.%s", e.Err, e.Type, e.Attribute)
}

func (e *AttributeError) Unwrap() error { return e.Err }

type attribute struct {
	name       string
	typ        reflect.Type
	index      []int
	hasDefault bool
	def        reflect.Value
}

var attrCache sync.Map // reflect.Type -> []attribute

func attributesOf(t reflect.Type) []attribute {
	if v, ok := attrCache.Load(t); ok {
		return v.([]attribute)
	}
	attrs, _ := inspect(t)
	v, _ := attrCache.LoadOrStore(t, attrs)
	return v.([]attribute)
}

func inspect(t reflect.Type) ([]attribute, error) {
	if t == nil || t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, fmt.Errorf("%w: %v", ErrNotAnnotation, t)
	}
	var attrs []attribute
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if err := checkAttributeType(f.Type); err != nil {
			return nil, &AttributeError{Type: t, Attribute: f.Name, Err: err}
		}
		a := attribute{name: f.Name, typ: f.Type, index: f.Index}
		if raw, ok := f.Tag.Lookup("default"); ok {
			d, err := parseDefault(f.Type, raw)
			if err != nil {
				return nil, &AttributeError{Type: t, Attribute: f.Name, Err: fmt.Errorf("%w: default %q: %v", ErrNotAnnotation, raw, err)}
			}
			a.hasDefault, a.def = true, d
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func checkAttributeType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Slice {
			return fmt.Errorf("%w: nested slice %s", ErrNotAnnotation, t)
		}
		return checkAttributeType(t.Elem())
	case reflect.Struct:
		_, err := inspect(t)
		return err
	}
	return fmt.Errorf("%w: attribute type %s", ErrNotAnnotation, t)
}

// parseDefault decodes a default tag. Strings are taken verbatim; everything else is
// YAML, so lists are written as "[a, b]".
func parseDefault(t reflect.Type, raw string) (reflect.Value, error) {
	v := reflect.New(t)
	if t.Kind() == reflect.String {
		v.Elem().SetString(raw)
		return v.Elem(), nil
	}
	if err := yaml.Unmarshal([]byte(raw), v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	if t.Kind() == reflect.Slice && v.Elem().IsNil() {
		v.Elem().Set(reflect.MakeSlice(t, 0, 0))
	}
	return v.Elem(), nil
}

// factory is the base every annotation class is bridged through.
type factory struct {
	New func(pairs []any) (*synth.Object, error)
}

var pairsType = reflect.TypeOf([]any(nil))

type entry struct {
	typ   reflect.Type
	attrs []attribute
	gen   *synth.ClassGenerator
}

// Synthesizer generates one class per annotation type on top of a class synthesizer.
type Synthesizer struct {
	classes *synth.Synthesizer
	types   sync.Map // reflect.Type -> *entry
}

// NewSynthesizer returns an annotation synthesizer defining its classes in s.
func NewSynthesizer(s *synth.Synthesizer) *Synthesizer {
	if s == nil {
		s = synth.Default()
	}
	return &Synthesizer{classes: s}
}

var (
	defaultOnce sync.Once
	defaultSyn  *Synthesizer
)

// Default returns the annotation synthesizer backed by synth.Default.
func Default() *Synthesizer {
	defaultOnce.Do(func() { defaultSyn = NewSynthesizer(synth.Default()) })
	return defaultSyn
}

// Type returns the generator for annotation type t, creating and linking it once.
func (s *Synthesizer) Type(t reflect.Type) (*synth.ClassGenerator, error) {
	e, err := s.entry(t)
	if err != nil {
		return nil, err
	}
	return e.gen, nil
}

func (s *Synthesizer) entry(t reflect.Type) (*entry, error) {
	if v, ok := s.types.Load(t); ok {
		return v.(*entry), nil
	}
	attrs, err := inspect(t)
	if err != nil {
		return nil, err
	}
	e := &entry{typ: t, attrs: attrs}
	gen, err := s.classes.NewGenerator(t.PkgPath()+"."+t.Name()+"$Annotation",
		synth.WithAccess(synth.Public|synth.Final|synth.Synthetic),
		synth.WithFactory(reflect.TypeOf(factory{})),
		synth.Prebind("type", t),
		synth.Generate(e.generate),
	)
	if err != nil {
		return nil, err
	}
	e.gen = gen
	actual, _ := s.types.LoadOrStore(t, e)
	winner := actual.(*entry)
	if err := s.classes.LinkGenerator(winner.gen); err != nil {
		return nil, err
	}
	return winner, nil
}

func (e *entry) generate(em *synth.Emitter) error {
	typ := em.Prebound("type")
	for _, a := range e.attrs {
		em.Field(a.name, a.typ)
	}
	em.Constructor(synth.Private, e.construct, pairsType)

	for _, a := range e.attrs {
		name := a.name
		em.Method(name, reflect.FuncOf(nil, []reflect.Type{a.typ}, false), func(self *synth.Object, _ []reflect.Value) []reflect.Value {
			f, _ := self.Field(name)
			return []reflect.Value{synth.CloneSlice(f)}
		})
	}
	em.Method("AnnotationType", reflect.TypeOf((func() reflect.Type)(nil)), func(*synth.Object, []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(synth.PreboundAs[reflect.Type](typ))}
	})
	em.Method("HashCode", reflect.TypeOf((func() int32)(nil)), func(self *synth.Object, _ []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(hashOf(e.attrs, e.values(self)))}
	})
	em.Method("Equal", reflect.TypeOf((func(any) bool)(nil)), func(self *synth.Object, args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(e.equal(self, args[0].Interface()))}
	})
	em.Method("String", reflect.TypeOf((func() string)(nil)), func(self *synth.Object, _ []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(format(e.typ, e.attrs, e.values(self)))}
	})
	return nil
}

// construct consumes flat (name, value) pairs, falling back to defaults.
func (e *entry) construct(self *synth.Object, args []reflect.Value) error {
	pairs, _ := args[0].Interface().([]any)
	if len(pairs)%2 != 0 {
		return fmt.Errorf("%w: odd number of attribute pairs for %s", synth.ErrIllegalArgument, e.typ)
	}
	given := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			return fmt.Errorf("%w: attribute name %v is not a string", synth.ErrIllegalArgument, pairs[i])
		}
		given[name] = pairs[i+1]
	}
	for _, a := range e.attrs {
		f, err := self.Field(a.name)
		if err != nil {
			return err
		}
		raw, ok := given[a.name]
		delete(given, a.name)
		if !ok {
			if !a.hasDefault {
				return &AttributeError{Type: e.typ, Attribute: a.name, Err: ErrMissingAttribute}
			}
			f.Set(synth.CloneSlice(a.def))
			continue
		}
		v, err := attributeValue(raw, a.typ)
		if err != nil {
			return &AttributeError{Type: e.typ, Attribute: a.name, Err: err}
		}
		f.Set(synth.CloneSlice(v))
	}
	if len(given) > 0 {
		names := slices.Sorted(maps.Keys(given))
		return &AttributeError{Type: e.typ, Attribute: names[0], Err: ErrUnknownAttribute}
	}
	return nil
}

func attributeValue(raw any, t reflect.Type) (reflect.Value, error) {
	if a, ok := raw.(*Annotation); ok {
		raw = a.Value()
	}
	if raw == nil {
		return reflect.Value{}, fmt.Errorf("%w: nil attribute value", synth.ErrIllegalArgument)
	}
	v, err := cast.Value(raw, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", synth.ErrIllegalArgument, err)
	}
	if t.Kind() == reflect.Slice && v.IsNil() {
		v = reflect.MakeSlice(t, 0, 0)
	}
	return v, nil
}

func (e *entry) values(o *synth.Object) []reflect.Value {
	out := make([]reflect.Value, len(e.attrs))
	for i, a := range e.attrs {
		out[i], _ = o.Field(a.name)
	}
	return out
}

func (e *entry) equal(self *synth.Object, other any) bool {
	var vals []reflect.Value
	switch x := other.(type) {
	case *Annotation:
		if x == nil || x.typ != e.typ {
			return false
		}
		vals = e.values(x.obj)
	case *synth.Object:
		if x == nil || x.Class() != self.Class() {
			return false
		}
		vals = e.values(x)
	default:
		rv := reflect.ValueOf(other)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv = rv.Elem()
		}
		if !rv.IsValid() || rv.Type() != e.typ {
			return false
		}
		vals = fieldValues(rv, e.attrs)
	}
	for i, v := range e.values(self) {
		if !valueEqual(v, vals[i]) {
			return false
		}
	}
	return true
}

// New synthesizes an instance of annotation type t from flat (name, value) pairs.
func (s *Synthesizer) New(t reflect.Type, pairs ...any) (*Annotation, error) {
	e, err := s.entry(t)
	if err != nil {
		return nil, err
	}
	f, err := synth.FactoryOf[factory](s.classes, e.gen)
	if err != nil {
		return nil, err
	}
	obj, err := f.New(pairs)
	if err != nil {
		return nil, err
	}
	return newAnnotation(e, obj)
}

// Of synthesizes an instance carrying the attribute values of v, a value of (or pointer
// to) an annotation type.
func (s *Synthesizer) Of(v any) (*Annotation, error) {
	if a, ok := v.(*Annotation); ok {
		return a, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil", ErrNotAnnotation)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil", ErrNotAnnotation)
	}
	e, err := s.entry(rv.Type())
	if err != nil {
		return nil, err
	}
	pairs := make([]any, 0, 2*len(e.attrs))
	for i, fv := range fieldValues(rv, e.attrs) {
		pairs = append(pairs, e.attrs[i].name, fv.Interface())
	}
	return s.New(rv.Type(), pairs...)
}

// New synthesizes through the default synthesizer.
func New(t reflect.Type, pairs ...any) (*Annotation, error) { return Default().New(t, pairs...) }

// Of synthesizes through the default synthesizer.
func Of(v any) (*Annotation, error) { return Default().Of(v) }

// Annotation is a synthesized annotation instance.
type Annotation struct {
	typ  reflect.Type
	e    *entry
	obj  *synth.Object
	hash func() int32
	eq   func(any) bool
	str  func() string
}

func newAnnotation(e *entry, obj *synth.Object) (*Annotation, error) {
	a := &Annotation{typ: e.typ, e: e, obj: obj}
	var err error
	if a.hash, err = synth.MethodAs[func() int32](obj, "HashCode"); err != nil {
		return nil, err
	}
	if a.eq, err = synth.MethodAs[func(any) bool](obj, "Equal"); err != nil {
		return nil, err
	}
	if a.str, err = synth.MethodAs[func() string](obj, "String"); err != nil {
		return nil, err
	}
	return a, nil
}

// Type returns the annotation type.
func (a *Annotation) Type() reflect.Type { return a.typ }

// Object returns the underlying synthesized instance.
func (a *Annotation) Object() *synth.Object { return a.obj }

// Get returns an attribute through its accessor; slices are copies.
func (a *Annotation) Get(attr string) (any, error) {
	out, err := a.obj.Call(attr)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// HashCode returns the contract hash.
func (a *Annotation) HashCode() int32 { return a.hash() }

// Equal reports structural equality with another annotation, synthesized instance or
// plain value of the same type.
func (a *Annotation) Equal(other any) bool { return a.eq(other) }

func (a *Annotation) String() string { return a.str() }

// Value materialises the attributes into a fresh value of the annotation type.
func (a *Annotation) Value() any {
	v := reflect.New(a.typ).Elem()
	for i, fv := range a.e.values(a.obj) {
		v.FieldByIndex(a.e.attrs[i].index).Set(synth.CloneSlice(fv))
	}
	return v.Interface()
}

// As materialises a into A.
func As[A any](a *Annotation) (A, bool) {
	v, ok := a.Value().(A)
	return v, ok
}
