package synth

import (
	"fmt"
	"reflect"

	"github.com/trickstertwo/xevent/synth/cast"
)

// Object is an instance of a synthesized class.
type Object struct {
	class  *Class
	fields reflect.Value
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// Field returns the settable value of an instance field.
func (o *Object) Field(name string) (reflect.Value, error) {
	i, ok := o.class.fieldIndex[name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s.%s", ErrNoSuchField, o.class.name, name)
	}
	return o.fields.Field(i), nil
}

// Get returns a field value, or nil when the field does not exist.
func (o *Object) Get(name string) any {
	v, err := o.Field(name)
	if err != nil {
		return nil
	}
	return v.Interface()
}

// Set assigns a field, converting value to the field type.
func (o *Object) Set(name string, value any) error {
	f, err := o.Field(name)
	if err != nil {
		return err
	}
	v, err := cast.Value(value, f.Type())
	if err != nil {
		return fmt.Errorf("%w: field %s.%s: %v", ErrIllegalArgument, o.class.name, name, err)
	}
	f.Set(v)
	return nil
}

// Method binds a method to o and returns it as a real Go function value of the
// method's declared type.
func (o *Object) Method(name string) (reflect.Value, error) {
	m, ok := o.class.Method(name)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s.%s", ErrNoSuchMethod, o.class.name, name)
	}
	if m.IsAbstract() {
		return reflect.Value{}, fmt.Errorf("%w: %s.%s is abstract", ErrMissingMethod, o.class.name, name)
	}
	body := m.body
	return reflect.MakeFunc(m.Type, func(args []reflect.Value) []reflect.Value {
		return body(o, args)
	}), nil
}

// MethodAs binds a method and asserts it to the Go function type F.
func MethodAs[F any](o *Object, name string) (F, error) {
	var zero F
	v, err := o.Method(name)
	if err != nil {
		return zero, err
	}
	f, ok := v.Interface().(F)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s has type %s, not %T", ErrIllegalArgument, o.class.name, name, v.Type(), zero)
	}
	return f, nil
}

// Call invokes a method with dynamically typed arguments.
func (o *Object) Call(name string, args ...any) ([]any, error) {
	fn, err := o.Method(name)
	if err != nil {
		return nil, err
	}
	ft := fn.Type()
	if len(args) != ft.NumIn() {
		return nil, fmt.Errorf("%w: %s.%s takes %d arguments, got %d", ErrIllegalArgument, o.class.name, name, ft.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := cast.Value(a, ft.In(i))
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s argument %d: %v", ErrIllegalArgument, o.class.name, name, i, err)
		}
		in[i] = v
	}
	out := fn.Call(in)
	res := make([]any, len(out))
	for i, v := range out {
		res[i] = v.Interface()
	}
	return res, nil
}

// String delegates to a synthesized String method when the class declares one.
func (o *Object) String() string {
	if m, ok := o.class.Method("String"); ok && !m.IsAbstract() && m.Type == stringerType {
		out := m.body(o, nil)
		if len(out) == 1 {
			return out[0].String()
		}
	}
	return fmt.Sprintf("%s@%p", o.class.SimpleName(), o)
}

var stringerType = reflect.TypeOf((func() string)(nil))
