package synth

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// loader defines classes for one synthesizer. All definition happens under mu; the
// *Locked methods may call each other to resolve parents and cross-class references
// while generating.
type loader struct {
	mu       sync.Mutex
	s        *Synthesizer
	visiting map[*ClassGenerator]bool
}

func (l *loader) load(g *ClassGenerator) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(g)
}

func (l *loader) find(name string) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(name)
}

func (l *loader) findLocked(name string) (*Class, error) {
	v, ok := l.s.links.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	switch x := v.(type) {
	case *Class:
		return x, nil
	case *ClassGenerator:
		return l.loadLocked(x)
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

func (l *loader) loadLocked(g *ClassGenerator) (*Class, error) {
	if c := g.generated.Load(); c != nil {
		return c, nil
	}
	if l.visiting == nil {
		l.visiting = make(map[*ClassGenerator]bool)
	}
	if l.visiting[g] {
		return nil, &GenerationError{Class: g.name, Err: ErrCircularity}
	}
	l.visiting[g] = true
	defer delete(l.visiting, g)

	c, err := l.define(g)
	if err != nil {
		var ge *GenerationError
		if errors.As(err, &ge) {
			return nil, err
		}
		return nil, &GenerationError{Class: g.name, Err: err}
	}
	if !g.generated.CompareAndSwap(nil, c) {
		return g.generated.Load(), nil
	}
	l.s.logger.Debug().
		Str("class", c.name).
		Str("super", superName(c)).
		Msg("synth: class defined")
	return c, nil
}

func (l *loader) resolveSuper(g *ClassGenerator) (*Class, error) {
	switch {
	case g.superClass != nil:
		return g.superClass, nil
	case g.superGen != nil:
		linked, ok := l.s.links.Load(g.superGen.name)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrNotLinked, g.superGen.name)
		}
		if linked != g.superGen {
			return nil, fmt.Errorf("%w: parent %s", ErrStaleGenerator, g.superGen.name)
		}
		return l.loadLocked(g.superGen)
	case g.superName != "":
		return l.findLocked(g.superName)
	}
	return nil, nil
}

func (l *loader) define(g *ClassGenerator) (*Class, error) {
	super, err := l.resolveSuper(g)
	if err != nil {
		return nil, err
	}
	if super != nil && super.access.Has(Final) {
		return nil, fmt.Errorf("%w: %s", ErrFinalSuper, super.name)
	}
	for _, it := range g.interfaces {
		if it == nil || it.Kind() != reflect.Interface {
			return nil, fmt.Errorf("%w: %v is not an interface type", ErrIllegalArgument, it)
		}
	}

	e := &Emitter{gen: g, loader: l, super: super}
	if g.generate != nil {
		if err := g.generate(e); err != nil {
			return nil, err
		}
	}
	if e.err != nil {
		return nil, e.err
	}

	c := &Class{
		name:        g.name,
		super:       super,
		interfaces:  append([]reflect.Type(nil), g.interfaces...),
		access:      g.access,
		methods:     e.methods,
		methodOrder: e.methodOrder,
		generator:   g,
		synth:       l.s,
	}
	if c.methods == nil {
		c.methods = make(map[string]*Method)
	}

	if super != nil {
		c.fields = append(c.fields, super.fields...)
	}
	for _, f := range e.fields {
		f.Owner = c
		c.fields = append(c.fields, f)
	}
	c.fieldIndex = make(map[string]int, len(c.fields))
	sf := make([]reflect.StructField, len(c.fields))
	for i, f := range c.fields {
		c.fieldIndex[f.Name] = i
		sf[i] = reflect.StructField{Name: f.Name, Type: f.Type}
	}
	c.instance = reflect.StructOf(sf)

	statics := append([]reflect.StructField{{Name: preboundField, Type: reflect.TypeOf((*PreboundValues)(nil))}}, e.statics...)
	c.staticIndex = make(map[string]int, len(statics))
	for i, f := range statics {
		c.staticIndex[f.Name] = i
	}
	c.statics = reflect.New(reflect.StructOf(statics))

	for _, m := range c.methods {
		m.Owner = c
	}
	c.ctors = e.ctors
	if len(c.ctors) == 0 {
		c.ctors = []*Constructor{defaultConstructor(super)}
	}
	for _, k := range c.ctors {
		k.Owner = c
	}

	if !c.access.Has(Abstract) {
		if err := checkConcrete(c); err != nil {
			return nil, err
		}
	}
	for _, name := range e.refs {
		if _, err := g.values.Get(name); err != nil {
			return nil, err
		}
	}

	// Bind, then run static initialisation, then post-process.
	if err := g.values.bind(c); err != nil {
		return nil, err
	}
	e.class = c
	c.statics.Elem().Field(0).Set(reflect.ValueOf(g.values))
	if err := initialize(c, e.staticInits, g.postProcess); err != nil {
		// The class is discarded; a later Load generates a fresh one.
		g.values.unbind(c)
		return nil, err
	}
	return c, nil
}

func initialize(c *Class, staticInits []func(*Class) error, postProcess func(*Class) error) error {
	for _, fn := range staticInits {
		if err := fn(c); err != nil {
			return err
		}
	}
	if postProcess != nil {
		return postProcess(c)
	}
	return nil
}

func defaultConstructor(super *Class) *Constructor {
	k := &Constructor{Access: Public | Synthetic}
	if super == nil {
		return k
	}
	if parent, ok := super.Constructor(); ok {
		k.body = func(self *Object, _ []reflect.Value) error {
			return parent.Init(self, nil)
		}
	}
	return k
}

// checkConcrete verifies that every inherited abstract method and every interface
// method has a body.
func checkConcrete(c *Class) error {
	for _, m := range c.Methods() {
		if m.IsAbstract() {
			return fmt.Errorf("%w: %s.%s", ErrMissingMethod, c.name, m.Name)
		}
	}
	for _, it := range c.Interfaces() {
		for i := 0; i < it.NumMethod(); i++ {
			im := it.Method(i)
			m, ok := c.Method(im.Name)
			if !ok {
				return fmt.Errorf("%w: %s.%s required by %s", ErrMissingMethod, c.name, im.Name, it)
			}
			if m.Type != im.Type {
				return fmt.Errorf("%w: %s.%s has type %s, %s requires %s", ErrMissingMethod, c.name, im.Name, m.Type, it, im.Type)
			}
		}
	}
	return nil
}

func superName(c *Class) string {
	if c.super == nil {
		return ""
	}
	return c.super.name
}
