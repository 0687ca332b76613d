package synth

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/trickstertwo/xevent/synth/cast"
)

var (
	objectType = reflect.TypeOf((*Object)(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// FactoryGenerator generates the bridge class exposing a target's constructors as the
// func fields of a factory base struct. It is created 1:1 with its target generator.
type FactoryGenerator struct {
	target *ClassGenerator
	base   reflect.Type
	gen    *ClassGenerator
	slots  []reflect.StructField

	mu       sync.Mutex
	instance any
}

func newFactoryGenerator(target *ClassGenerator, base reflect.Type) (*FactoryGenerator, error) {
	if base.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: factory base %s is not a struct", ErrIllegalArgument, base)
	}
	f := &FactoryGenerator{target: target, base: base}
	for i := 0; i < base.NumField(); i++ {
		sf := base.Field(i)
		if !sf.IsExported() || sf.Type.Kind() != reflect.Func {
			continue
		}
		if err := checkFactoryResults(sf); err != nil {
			return nil, err
		}
		f.slots = append(f.slots, sf)
	}
	if len(f.slots) == 0 {
		return nil, fmt.Errorf("%w: factory base %s declares no func fields", ErrIllegalArgument, base)
	}
	f.gen = &ClassGenerator{
		synth:    target.synth,
		base:     target.base + "$Factory",
		name:     target.name + "$Factory",
		access:   Public | Final | Synthetic,
		values:   newPreboundValues(),
		generate: f.generate,
	}
	return f, nil
}

func checkFactoryResults(sf reflect.StructField) error {
	ft := sf.Type
	if ft.IsVariadic() {
		return fmt.Errorf("%w: factory method %s is variadic", ErrIllegalArgument, sf.Name)
	}
	ok := ft.NumOut() == 1 || (ft.NumOut() == 2 && ft.Out(1) == errorType)
	if !ok || !objectType.AssignableTo(ft.Out(0)) {
		return fmt.Errorf("%w: factory method %s must return *synth.Object, optionally with error", ErrIllegalArgument, sf.Name)
	}
	return nil
}

// Target returns the generator whose constructors are bridged.
func (f *FactoryGenerator) Target() *ClassGenerator { return f.target }

// Generator returns the generator of the factory class itself.
func (f *FactoryGenerator) Generator() *ClassGenerator { return f.gen }

func (f *FactoryGenerator) generate(e *Emitter) error {
	target, err := e.Resolve(f.target.name)
	if err != nil {
		return err
	}
	for _, sf := range f.slots {
		ft := sf.Type
		params := make([]reflect.Type, ft.NumIn())
		for i := range params {
			params[i] = ft.In(i)
		}
		ctor, ok := target.Constructor(params...)
		if !ok {
			return fmt.Errorf("%w: no constructor of %s matches %s.%s %s", ErrIllegalArgument, target.name, f.base, sf.Name, ft)
		}
		ctor.SetAccessible()
		handle, err := ctor.Handle()
		if err != nil {
			return err
		}
		key := "ctor." + sf.Name
		e.Prebind(key, handle)
		ref := e.Prebound(key)
		e.Method(sf.Name, ft, bridge(ref, ft))
	}
	return nil
}

func bridge(ref PreboundRef, ft reflect.Type) MethodFunc {
	withErr := ft.NumOut() == 2
	out0 := ft.Out(0)
	return func(_ *Object, args []reflect.Value) []reflect.Value {
		h := PreboundAs[func([]reflect.Value) (*Object, error)](ref)
		obj, err := h(args)
		if err != nil && !withErr {
			panic(err)
		}
		res := reflect.Zero(out0)
		if obj != nil {
			v, cerr := cast.Value(obj, out0)
			if cerr != nil {
				panic(cerr)
			}
			res = v
		}
		if !withErr {
			return []reflect.Value{res}
		}
		ev := reflect.Zero(errorType)
		if err != nil {
			ev = reflect.ValueOf(&err).Elem()
		}
		return []reflect.Value{res, ev}
	}
}

// Instance returns the singleton factory, defining the factory class on first use.
func (f *FactoryGenerator) Instance() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instance != nil {
		return f.instance, nil
	}
	c, err := f.gen.synth.Load(f.gen)
	if err != nil {
		return nil, err
	}
	obj, err := c.New()
	if err != nil {
		return nil, err
	}
	inst := reflect.New(f.base)
	for _, sf := range f.slots {
		fn, err := obj.Method(sf.Name)
		if err != nil {
			return nil, err
		}
		inst.Elem().FieldByIndex(sf.Index).Set(fn)
	}
	f.instance = inst.Interface()
	return f.instance, nil
}
