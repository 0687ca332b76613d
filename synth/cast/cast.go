// Package cast decides how a runtime value of one type becomes a value of another and
// compiles the conversion into a reusable closure.
package cast

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/trickstertwo/xevent/internal/hierarchy"
)

var (
	// ErrUnsupported is returned when no conversion exists between two types.
	ErrUnsupported = errors.New("cast: unsupported conversion")
	// ErrOverflow is returned when a narrowing conversion loses information.
	ErrOverflow = errors.New("cast: value overflows target type")
	// ErrNilValue is returned when nil is converted to a non-nillable type.
	ErrNilValue = errors.New("cast: nil value for non-nillable type")
)

// Kind classifies a conversion.
type Kind uint8

const (
	Unsupported Kind = iota
	// Identity: types are equal.
	Identity
	// Assign: the value is assignable as is (interfaces, any).
	Assign
	// Widen: lossless numeric conversion.
	Widen
	// Narrow: numeric conversion that may overflow.
	Narrow
	// Box: a value becomes a pointer to a copy of it.
	Box
	// Unbox: a pointer is dereferenced.
	Unbox
	// Embedded: a struct is projected onto one of its embedded structs.
	Embedded
)

func (k Kind) String() string {
	switch k {
	case Identity:
		return "identity"
	case Assign:
		return "assign"
	case Widen:
		return "widen"
	case Narrow:
		return "narrow"
	case Box:
		return "box"
	case Unbox:
		return "unbox"
	case Embedded:
		return "embedded"
	default:
		return "unsupported"
	}
}

// Converter converts a value of the type it was compiled for.
type Converter func(v reflect.Value) (reflect.Value, error)

// Classify decides the kind of conversion from one type to another.
func Classify(from, to reflect.Type) Kind {
	switch {
	case from == nil || to == nil:
		return Unsupported
	case from == to:
		return Identity
	case from.AssignableTo(to):
		return Assign
	}

	if isNumeric(from) && isNumeric(to) {
		if widens(from, to) {
			return Widen
		}
		return Narrow
	}
	if to.Kind() == reflect.Pointer && to.Elem() == from {
		return Box
	}
	if from.Kind() == reflect.Pointer {
		if from.Elem() == to || from.Elem().AssignableTo(to) {
			return Unbox
		}
	}
	if _, ok := embeddedPath(from, to); ok {
		return Embedded
	}
	return Unsupported
}

type key struct{ from, to reflect.Type }

var compiled sync.Map // key -> Converter

// Compile returns a converter from one type to another. Converters are cached.
func Compile(from, to reflect.Type) (Converter, error) {
	k := key{from, to}
	if c, ok := compiled.Load(k); ok {
		return c.(Converter), nil
	}
	c, err := compile(from, to)
	if err != nil {
		return nil, err
	}
	actual, _ := compiled.LoadOrStore(k, c)
	return actual.(Converter), nil
}

// Convert performs a one-shot conversion of v to type to.
func Convert(v reflect.Value, to reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return Zero(to)
	}
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	c, err := Compile(v.Type(), to)
	if err != nil {
		return reflect.Value{}, err
	}
	return c(v)
}

// Value converts an arbitrary Go value to type to.
func Value(x any, to reflect.Type) (reflect.Value, error) {
	if x == nil {
		return Zero(to)
	}
	return Convert(reflect.ValueOf(x), to)
}

// Zero returns the zero value of a nillable type, the conversion target of nil.
func Zero(to reflect.Type) (reflect.Value, error) {
	switch to.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return reflect.Zero(to), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s", ErrNilValue, to)
}

func compile(from, to reflect.Type) (Converter, error) {
	kind := Classify(from, to)
	switch kind {
	case Identity:
		return func(v reflect.Value) (reflect.Value, error) { return v, nil }, nil
	case Assign:
		return func(v reflect.Value) (reflect.Value, error) {
			out := reflect.New(to).Elem()
			out.Set(v)
			return out, nil
		}, nil
	case Widen:
		return func(v reflect.Value) (reflect.Value, error) { return v.Convert(to), nil }, nil
	case Narrow:
		return func(v reflect.Value) (reflect.Value, error) {
			if overflows(v, to) {
				return reflect.Value{}, fmt.Errorf("%w: %v to %s", ErrOverflow, v.Interface(), to)
			}
			return v.Convert(to), nil
		}, nil
	case Box:
		return func(v reflect.Value) (reflect.Value, error) {
			p := reflect.New(to.Elem())
			p.Elem().Set(v)
			return p, nil
		}, nil
	case Unbox:
		return func(v reflect.Value) (reflect.Value, error) {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("%w: %s", ErrNilValue, from)
			}
			out := reflect.New(to).Elem()
			out.Set(v.Elem())
			return out, nil
		}, nil
	case Embedded:
		path, _ := embeddedPath(from, to)
		return func(v reflect.Value) (reflect.Value, error) {
			return project(v, path, to)
		}, nil
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrUnsupported, from, to)
}

// embeddedPath resolves to either as an embedded struct or a pointer to one.
func embeddedPath(from, to reflect.Type) (hierarchy.Path, bool) {
	target := to
	if target.Kind() == reflect.Pointer {
		// Taking the address of an embedded value needs an addressable source.
		if from.Kind() != reflect.Pointer {
			return hierarchy.Path{}, false
		}
		target = target.Elem()
	}
	if target.Kind() != reflect.Struct {
		return hierarchy.Path{}, false
	}
	return hierarchy.Find(from, target)
}

func project(v reflect.Value, path hierarchy.Path, to reflect.Type) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrNilValue, v.Type())
		}
		v = v.Elem()
	}
	for _, i := range path.Index {
		v = v.Field(i)
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("%w: embedded %s", ErrNilValue, v.Type())
			}
			v = v.Elem()
		}
	}
	if to.Kind() == reflect.Pointer {
		if !v.CanAddr() {
			return reflect.Value{}, fmt.Errorf("%w: %s is not addressable", ErrUnsupported, v.Type())
		}
		return v.Addr(), nil
	}
	return v, nil
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// widens reports whether every value of from is representable in to.
func widens(from, to reflect.Type) bool {
	fk, tk := from.Kind(), to.Kind()
	fb, tb := from.Bits(), to.Bits()
	switch {
	case isFloat(fk):
		return isFloat(tk) && tb >= fb
	case isFloat(tk):
		// Integers up to the mantissa width are exact.
		mantissa := 24
		if tb == 64 {
			mantissa = 53
		}
		return fb < mantissa
	case isSigned(fk):
		return isSigned(tk) && tb >= fb
	case isUnsigned(fk):
		return (isUnsigned(tk) && tb >= fb) || (isSigned(tk) && tb > fb)
	}
	return false
}

// overflows reports whether v cannot be represented in to. Integers must convert to
// floats exactly; float to float narrowing only checks range and rounds.
func overflows(v reflect.Value, to reflect.Type) bool {
	k := v.Kind()
	tk := to.Kind()
	switch {
	case isSigned(k):
		n := v.Int()
		switch {
		case isSigned(tk):
			return to.OverflowInt(n)
		case isUnsigned(tk):
			return n < 0 || to.OverflowUint(uint64(n))
		default:
			g := toFloat(float64(n), tk)
			return g >= 0x1p63 || int64(g) != n
		}
	case isUnsigned(k):
		n := v.Uint()
		switch {
		case isSigned(tk):
			return n > math.MaxInt64 || to.OverflowInt(int64(n))
		case isUnsigned(tk):
			return to.OverflowUint(n)
		default:
			g := toFloat(float64(n), tk)
			return g >= 0x1p64 || uint64(g) != n
		}
	case isFloat(k):
		f := v.Float()
		switch {
		case isSigned(tk):
			return f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || to.OverflowInt(int64(f))
		case isUnsigned(tk):
			return f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || to.OverflowUint(uint64(f))
		default:
			return !math.IsNaN(f) && !math.IsInf(f, 0) && to.OverflowFloat(f)
		}
	}
	return true
}

// toFloat rounds f to the precision of kind k.
func toFloat(f float64, k reflect.Kind) float64 {
	if k == reflect.Float32 {
		return float64(float32(f))
	}
	return f
}
