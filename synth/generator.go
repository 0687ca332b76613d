package synth

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Access is a set of class and member modifiers.
type Access uint16

const (
	Public Access = 1 << iota
	Private
	Final
	Abstract
	Synthetic
)

// Has reports whether every flag in f is set.
func (a Access) Has(f Access) bool { return a&f == f }

func (a Access) String() string {
	var s string
	for _, f := range []struct {
		flag Access
		name string
	}{{Public, "public"}, {Private, "private"}, {Final, "final"}, {Abstract, "abstract"}, {Synthetic, "synthetic"}} {
		if a.Has(f.flag) {
			if s != "" {
				s += " "
			}
			s += f.name
		}
	}
	return s
}

// ClassGenerator describes exactly one synthesized class. Its description is turned into
// a Class lazily, on the first Load.
type ClassGenerator struct {
	synth *Synthesizer

	name        string
	base        string
	superGen    *ClassGenerator
	superName   string
	superClass  *Class
	interfaces  []reflect.Type
	access      Access
	factoryBase reflect.Type

	generate    func(*Emitter) error
	postProcess func(*Class) error

	values    *PreboundValues
	factory   *FactoryGenerator
	generated atomic.Pointer[Class]

	optErr error
}

// GeneratorOption configures a ClassGenerator.
type GeneratorOption func(*ClassGenerator)

// Super makes the generated class extend the class of another generator.
func Super(g *ClassGenerator) GeneratorOption {
	return func(c *ClassGenerator) { c.superGen = g }
}

// SuperName makes the generated class extend whatever is linked under name.
func SuperName(name string) GeneratorOption {
	return func(c *ClassGenerator) { c.superName = name }
}

// SuperClass makes the generated class extend an already defined class.
func SuperClass(cl *Class) GeneratorOption {
	return func(c *ClassGenerator) { c.superClass = cl }
}

// Implements records Go interface types the class provides methods for. Concrete
// classes must implement every method of each interface.
func Implements(ifaces ...reflect.Type) GeneratorOption {
	return func(c *ClassGenerator) { c.interfaces = append(c.interfaces, ifaces...) }
}

// WithAccess sets the class modifiers. Defaults to Public.
func WithAccess(a Access) GeneratorOption {
	return func(c *ClassGenerator) { c.access = a }
}

// WithFactory requests a factory bridge. base must be a struct type whose func fields
// are mapped onto constructors of the generated class.
func WithFactory(base reflect.Type) GeneratorOption {
	return func(c *ClassGenerator) { c.factoryBase = base }
}

// Generate sets the emission callback.
func Generate(fn func(*Emitter) error) GeneratorOption {
	return func(c *ClassGenerator) { c.generate = fn }
}

// PostProcess sets a hook that runs after the class is defined and its prebound values
// are bound, before Load returns.
func PostProcess(fn func(*Class) error) GeneratorOption {
	return func(c *ClassGenerator) { c.postProcess = fn }
}

// Prebind stages a runtime value for the generated class.
func Prebind(name string, value any) GeneratorOption {
	return func(c *ClassGenerator) {
		if err := c.values.Put(name, value); err != nil && c.optErr == nil {
			c.optErr = err
		}
	}
}

// NewGenerator creates a generator. name may contain {placeholders}; the expanded
// name is mangled with a unique suffix so repeated generation never collides.
func (s *Synthesizer) NewGenerator(name string, opts ...GeneratorOption) (*ClassGenerator, error) {
	expanded, err := s.subst.Expand(name)
	if err != nil {
		return nil, err
	}
	if expanded == "" {
		return nil, fmt.Errorf("%w: empty class name", ErrIllegalArgument)
	}
	g := &ClassGenerator{
		synth:  s,
		base:   expanded,
		name:   expanded + "$" + UID(),
		access: Public,
		values: newPreboundValues(),
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	if g.optErr != nil {
		return nil, g.optErr
	}
	if g.superGen != nil && g.superGen.synth != s {
		return nil, fmt.Errorf("%w: super %s", ErrForeignGenerator, g.superGen.name)
	}
	if g.factoryBase != nil {
		f, err := newFactoryGenerator(g, g.factoryBase)
		if err != nil {
			return nil, err
		}
		g.factory = f
	}
	return g, nil
}

// Name returns the mangled type identity.
func (g *ClassGenerator) Name() string { return g.name }

// BaseName returns the name before mangling.
func (g *ClassGenerator) BaseName() string { return g.base }

// Factory returns the associated factory generator, or nil.
func (g *ClassGenerator) Factory() *FactoryGenerator { return g.factory }

// Prebind stages a runtime value. It fails once the class is defined.
func (g *ClassGenerator) Prebind(name string, value any) error {
	return g.values.Put(name, value)
}

// Generated returns the class once loaded, or nil.
func (g *ClassGenerator) Generated() *Class { return g.generated.Load() }

func (g *ClassGenerator) String() string { return g.name }
