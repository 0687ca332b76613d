package synth

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/trickstertwo/xevent/internal/hierarchy"
	"github.com/trickstertwo/xevent/synth/cast"
)

// preboundField is the hidden static field holding a class's PreboundValues.
const preboundField = "Prebound"

// MethodFunc is the body of a synthesized method. args match the method's declared
// parameters; the returned slice must match its results.
type MethodFunc func(self *Object, args []reflect.Value) []reflect.Value

// CtorFunc is the body of a synthesized constructor.
type CtorFunc func(self *Object, args []reflect.Value) error

// Field is an instance or static field.
type Field struct {
	Name   string
	Type   reflect.Type
	Static bool
	Owner  *Class
}

// Method is a synthesized instance method.
type Method struct {
	Name   string
	Type   reflect.Type
	Access Access
	Owner  *Class
	body   MethodFunc
}

// IsAbstract reports whether the method has no body.
func (m *Method) IsAbstract() bool { return m.body == nil }

// Constructor creates and initialises instances of its owner.
type Constructor struct {
	Params     []reflect.Type
	Access     Access
	Owner      *Class
	body       CtorFunc
	accessible atomic.Bool
}

// SetAccessible lifts the access check for private constructors.
func (c *Constructor) SetAccessible() { c.accessible.Store(true) }

// Matches reports whether the constructor takes exactly params.
func (c *Constructor) Matches(params []reflect.Type) bool {
	if len(params) != len(c.Params) {
		return false
	}
	for i := range params {
		if params[i] != c.Params[i] {
			return false
		}
	}
	return true
}

// Handle returns a callable bound to this constructor, checked for access once.
func (c *Constructor) Handle() (func(args []reflect.Value) (*Object, error), error) {
	if c.Access.Has(Private) && !c.accessible.Load() {
		return nil, fmt.Errorf("%w: private constructor of %s", ErrIllegalAccess, c.Owner.name)
	}
	return c.invoke, nil
}

// NewInstance converts args to the parameter types and runs the constructor.
func (c *Constructor) NewInstance(args ...any) (*Object, error) {
	h, err := c.Handle()
	if err != nil {
		return nil, err
	}
	if len(args) != len(c.Params) {
		return nil, fmt.Errorf("%w: %s constructor takes %d arguments, got %d", ErrIllegalArgument, c.Owner.name, len(c.Params), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := cast.Value(a, c.Params[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrIllegalArgument, i, err)
		}
		in[i] = v
	}
	return h(in)
}

// Init runs the constructor body on an existing instance of the owner or a subclass.
func (c *Constructor) Init(self *Object, args []reflect.Value) error {
	if self == nil || !self.class.IsSubclassOf(c.Owner) {
		return fmt.Errorf("%w: receiver is not a %s", ErrIllegalArgument, c.Owner.name)
	}
	if c.body == nil {
		return nil
	}
	return c.body(self, args)
}

func (c *Constructor) invoke(args []reflect.Value) (*Object, error) {
	if c.Owner.access.Has(Abstract) {
		return nil, fmt.Errorf("%w: %s", ErrAbstract, c.Owner.name)
	}
	o := c.Owner.allocate()
	if c.body != nil {
		if err := c.body(o, args); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Class is a defined synthesized class.
type Class struct {
	name       string
	super      *Class
	interfaces []reflect.Type
	access     Access

	fields      []Field
	fieldIndex  map[string]int
	instance    reflect.Type
	statics     reflect.Value
	staticIndex map[string]int

	methods     map[string]*Method
	methodOrder []string
	ctors       []*Constructor

	generator *ClassGenerator
	synth     *Synthesizer
}

// Name returns the type identity.
func (c *Class) Name() string { return c.name }

// SimpleName returns the name without the unique suffix.
func (c *Class) SimpleName() string {
	if i := strings.LastIndexByte(c.name, '$'); i > 0 {
		return c.name[:i]
	}
	return c.name
}

// Super returns the parent class, or nil.
func (c *Class) Super() *Class { return c.super }

// Access returns the class modifiers.
func (c *Class) Access() Access { return c.access }

// Generator returns the generator the class was defined from.
func (c *Class) Generator() *ClassGenerator { return c.generator }

// Hierarchy returns c followed by its ancestors.
func (c *Class) Hierarchy() []*Class {
	return hierarchy.Walk(c, func(k *Class) []*Class {
		if k.super == nil {
			return nil
		}
		return []*Class{k.super}
	})
}

// Interfaces returns the interface types of c and its ancestors, deduplicated.
func (c *Class) Interfaces() []reflect.Type {
	var out []reflect.Type
	seen := make(map[reflect.Type]bool)
	for _, k := range c.Hierarchy() {
		for _, t := range k.interfaces {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Implements reports whether iface is declared by c or an ancestor.
func (c *Class) Implements(iface reflect.Type) bool {
	for _, t := range c.Interfaces() {
		if t == iface {
			return true
		}
	}
	return false
}

// IsSubclassOf reports whether other is c or an ancestor of c.
func (c *Class) IsSubclassOf(other *Class) bool {
	for _, k := range c.Hierarchy() {
		if k == other {
			return true
		}
	}
	return false
}

// Fields returns instance fields, inherited ones first.
func (c *Class) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Method resolves name along the hierarchy; overriding methods win.
func (c *Class) Method(name string) (*Method, bool) {
	for _, k := range c.Hierarchy() {
		if m, ok := k.methods[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// Methods returns every resolvable method, own methods first, each name once.
func (c *Class) Methods() []*Method {
	var out []*Method
	seen := make(map[string]bool)
	for _, k := range c.Hierarchy() {
		for _, name := range k.methodOrder {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, k.methods[name])
		}
	}
	return out
}

// Constructors returns the constructors declared by c.
func (c *Class) Constructors() []*Constructor {
	out := make([]*Constructor, len(c.ctors))
	copy(out, c.ctors)
	return out
}

// Constructor returns the constructor taking exactly params.
func (c *Class) Constructor(params ...reflect.Type) (*Constructor, bool) {
	for _, k := range c.ctors {
		if k.Matches(params) {
			return k, true
		}
	}
	return nil, false
}

// Static returns a static field.
func (c *Class) Static(name string) (reflect.Value, error) {
	i, ok := c.staticIndex[name]
	if !ok || name == preboundField {
		return reflect.Value{}, fmt.Errorf("%w: static %s.%s", ErrNoSuchField, c.name, name)
	}
	return c.statics.Elem().Field(i), nil
}

// Prebound returns the values prebound into the class's static state.
func (c *Class) Prebound() *PreboundValues {
	if !c.statics.IsValid() {
		return nil
	}
	v := c.statics.Elem().Field(c.staticIndex[preboundField])
	if v.IsNil() {
		return nil
	}
	return v.Interface().(*PreboundValues)
}

// New instantiates c through the public constructor matching the dynamic types of
// args, falling back to any public constructor the arguments convert to.
func (c *Class) New(args ...any) (*Object, error) {
	var candidates []*Constructor
	for _, k := range c.ctors {
		if len(k.Params) == len(args) && !k.Access.Has(Private) {
			candidates = append(candidates, k)
		}
	}
	for _, k := range candidates {
		exact := true
		for i, a := range args {
			if a == nil || reflect.TypeOf(a) != k.Params[i] {
				exact = false
				break
			}
		}
		if exact {
			return k.NewInstance(args...)
		}
	}
	var lastErr error
	for _, k := range candidates {
		o, err := k.NewInstance(args...)
		if err == nil {
			return o, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %s with %d arguments", ErrNoSuchConstructor, c.name, len(args))
}

func (c *Class) allocate() *Object {
	return &Object{class: c, fields: reflect.New(c.instance).Elem()}
}

func (c *Class) String() string { return "class " + c.name }
