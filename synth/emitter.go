package synth

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/brunoga/deep"
)

// Emitter is the emission surface handed to a generator's Generate callback. Every
// declaration is validated as it is made; the first failure is kept and reported by
// the loader, so callbacks can emit without checking each call.
type Emitter struct {
	gen    *ClassGenerator
	loader *loader
	super  *Class

	fields      []Field
	statics     []reflect.StructField
	staticInits []func(*Class) error
	methods     map[string]*Method
	methodOrder []string
	ctors       []*Constructor
	refs        []string

	class *Class
	err   error
}

// Name returns the mangled name of the class being generated.
func (e *Emitter) Name() string { return e.gen.name }

// Super returns the resolved parent class, or nil.
func (e *Emitter) Super() *Class { return e.super }

// Err returns the first emission error.
func (e *Emitter) Err() error { return e.err }

func (e *Emitter) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Field declares an instance field.
func (e *Emitter) Field(name string, typ reflect.Type) *Emitter {
	if !e.checkName(name) {
		return e
	}
	if typ == nil {
		e.fail(fmt.Errorf("%w: field %s has no type", ErrIllegalArgument, name))
		return e
	}
	for _, f := range e.fields {
		if f.Name == name {
			e.fail(fmt.Errorf("%w: field %s", ErrDuplicateMember, name))
			return e
		}
	}
	if e.super != nil {
		if _, ok := e.super.fieldIndex[name]; ok {
			e.fail(fmt.Errorf("%w: field %s hides a field of %s", ErrDuplicateMember, name, e.super.name))
			return e
		}
	}
	e.fields = append(e.fields, Field{Name: name, Type: typ})
	return e
}

// StaticField declares a class level field.
func (e *Emitter) StaticField(name string, typ reflect.Type) *Emitter {
	if !e.checkName(name) {
		return e
	}
	if name == preboundField {
		e.fail(fmt.Errorf("%w: static field %s is reserved", ErrInvalidName, name))
		return e
	}
	if typ == nil {
		e.fail(fmt.Errorf("%w: static field %s has no type", ErrIllegalArgument, name))
		return e
	}
	for _, f := range e.statics {
		if f.Name == name {
			e.fail(fmt.Errorf("%w: static field %s", ErrDuplicateMember, name))
			return e
		}
	}
	e.statics = append(e.statics, reflect.StructField{Name: name, Type: typ})
	return e
}

// Constructor declares a constructor taking params. A class without constructors gets
// a public no-argument one that runs the parent's no-argument constructor.
func (e *Emitter) Constructor(access Access, body CtorFunc, params ...reflect.Type) *Emitter {
	for _, p := range params {
		if p == nil {
			e.fail(fmt.Errorf("%w: nil constructor parameter type", ErrIllegalArgument))
			return e
		}
	}
	for _, c := range e.ctors {
		if c.Matches(params) {
			e.fail(fmt.Errorf("%w: constructor %v", ErrDuplicateMember, params))
			return e
		}
	}
	ps := make([]reflect.Type, len(params))
	copy(ps, params)
	e.ctors = append(e.ctors, &Constructor{Params: ps, Access: access, body: body})
	return e
}

// SuperConstructor returns the parent constructor taking params, for chaining from a
// constructor body via Init.
func (e *Emitter) SuperConstructor(params ...reflect.Type) *Constructor {
	if e.super == nil {
		e.fail(fmt.Errorf("%w: %s has no parent class", ErrNoSuchConstructor, e.gen.name))
		return nil
	}
	c, ok := e.super.Constructor(params...)
	if !ok {
		e.fail(fmt.Errorf("%w: %s%v", ErrNoSuchConstructor, e.super.name, params))
		return nil
	}
	return c
}

// Method declares an instance method. typ must be a non-variadic func type; body nil
// declares the method abstract.
func (e *Emitter) Method(name string, typ reflect.Type, body MethodFunc) *Emitter {
	return e.MethodWithAccess(name, typ, Public, body)
}

// MethodWithAccess is Method with explicit modifiers.
func (e *Emitter) MethodWithAccess(name string, typ reflect.Type, access Access, body MethodFunc) *Emitter {
	if !e.checkName(name) {
		return e
	}
	if typ == nil || typ.Kind() != reflect.Func {
		e.fail(fmt.Errorf("%w: method %s must have a func type", ErrIllegalArgument, name))
		return e
	}
	if typ.IsVariadic() {
		e.fail(fmt.Errorf("%w: method %s is variadic", ErrIllegalArgument, name))
		return e
	}
	if body == nil {
		access |= Abstract
	}
	if _, ok := e.methods[name]; ok {
		e.fail(fmt.Errorf("%w: method %s", ErrDuplicateMember, name))
		return e
	}
	if e.super != nil {
		if inherited, ok := e.super.Method(name); ok {
			if inherited.Type != typ {
				e.fail(fmt.Errorf("%w: method %s overrides %s with type %s", ErrIllegalArgument, name, inherited.Type, typ))
				return e
			}
			if inherited.Access.Has(Final) {
				e.fail(fmt.Errorf("%w: method %s is final in %s", ErrIllegalArgument, name, inherited.Owner.name))
				return e
			}
		}
	}
	if e.methods == nil {
		e.methods = make(map[string]*Method)
	}
	e.methods[name] = &Method{Name: name, Type: typ, Access: access, body: body}
	e.methodOrder = append(e.methodOrder, name)
	return e
}

// StaticInit registers a static initializer. Initializers run in order after the
// prebound values are installed.
func (e *Emitter) StaticInit(fn func(*Class) error) *Emitter {
	if fn != nil {
		e.staticInits = append(e.staticInits, fn)
	}
	return e
}

// Const expands a string template through the synthesizer's substitutions.
func (e *Emitter) Const(template string) string {
	s, err := e.gen.synth.subst.Expand(template)
	if err != nil {
		e.fail(err)
		return ""
	}
	return s
}

// Prebind stages a value while generating. Names staged here are visible to Prebound.
func (e *Emitter) Prebind(name string, value any) *Emitter {
	if err := e.gen.values.Put(name, value); err != nil {
		e.fail(err)
	}
	return e
}

// Prebound returns a reference to a prebound value of the class being generated. The
// name must be staged by the time the class is defined.
func (e *Emitter) Prebound(name string) PreboundRef {
	e.refs = append(e.refs, name)
	return PreboundRef{name: name, e: e}
}

// Resolve returns the class linked under name, loading it if needed.
func (e *Emitter) Resolve(name string) (*Class, error) {
	c, err := e.loader.findLocked(name)
	if err != nil {
		e.fail(err)
	}
	return c, err
}

// CloneSlice returns a deep copy of a slice value so generated accessors never expose
// internal state.
func (e *Emitter) CloneSlice(v reflect.Value) reflect.Value {
	return CloneSlice(v)
}

// CloneSlice deep copies a slice value. Nil slices stay nil; non-slices are returned
// unchanged.
func CloneSlice(v reflect.Value) reflect.Value {
	if !v.IsValid() || v.Kind() != reflect.Slice || v.IsNil() {
		return v
	}
	cp, err := deep.Copy(v.Interface())
	if err != nil {
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(out, v)
		return out
	}
	return reflect.ValueOf(cp)
}

// RequireNonNil fails with ErrIllegalArgument naming what when v is nil.
func (e *Emitter) RequireNonNil(v any, what string) error {
	return RequireNonNil(v, what)
}

// RequireNonNil is the null check used by generated bodies.
func RequireNonNil(v any, what string) error {
	if v == nil {
		return fmt.Errorf("%w: %s must not be nil", ErrIllegalArgument, what)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return fmt.Errorf("%w: %s must not be nil", ErrIllegalArgument, what)
		}
	}
	return nil
}

func (e *Emitter) checkName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	if name == "" || !unicode.IsUpper(r) {
		e.fail(fmt.Errorf("%w: %q", ErrInvalidName, name))
		return false
	}
	for _, c := range name {
		if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			e.fail(fmt.Errorf("%w: %q", ErrInvalidName, name))
			return false
		}
	}
	return true
}

// PreboundRef retrieves a prebound value from the static state of the class it was
// emitted for.
type PreboundRef struct {
	name string
	e    *Emitter
}

// Name returns the referenced name.
func (r PreboundRef) Name() string { return r.name }

// Get returns the value. It panics with ErrNilPrebound when the value is nil; callers
// hold a reference only from inside generated bodies, which run after definition.
func (r PreboundRef) Get() any {
	if r.e == nil || r.e.class == nil {
		panic(fmt.Errorf("%w: %q read before definition", ErrUnboundValue, r.name))
	}
	v := r.e.class.Prebound().MustGet(r.name)
	if err := RequireNonNil(v, r.name); err != nil {
		panic(fmt.Errorf("%w: %q", ErrNilPrebound, r.name))
	}
	return v
}

// PreboundAs is Get asserted to T.
func PreboundAs[T any](r PreboundRef) T {
	v := r.Get()
	t, ok := v.(T)
	if !ok {
		panic(fmt.Errorf("%w: prebound %q is %T", ErrIllegalArgument, r.name, v))
	}
	return t
}
