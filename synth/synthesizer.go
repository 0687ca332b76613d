// Package synth synthesizes classes at runtime: generators describe a class's fields,
// methods and constructors as closures, a private loader defines them lazily, and
// prebound values carry runtime state into each class's static fields.
package synth

import (
	"fmt"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Synthesizer owns one link table and one private loader. Classes defined by one
// synthesizer are never visible to another.
type Synthesizer struct {
	links  sync.Map // name -> *ClassGenerator | *Class
	loader loader
	subst  *Substitutions
	logger *xlog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger used for definition traces.
func WithLogger(l *xlog.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSubstitutions replaces the placeholder registry.
func WithSubstitutions(sub *Substitutions) Option {
	return func(s *Synthesizer) {
		if sub != nil {
			s.subst = sub
		}
	}
}

// New creates a synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{subst: NewSubstitutions()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.logger == nil {
		s.logger = xlog.Default()
	}
	s.loader.s = s
	return s
}

var (
	defaultOnce  sync.Once
	defaultSynth *Synthesizer
)

// Default returns the process-wide synthesizer.
func Default() *Synthesizer {
	defaultOnce.Do(func() { defaultSynth = New() })
	return defaultSynth
}

// Substitutions returns the placeholder registry.
func (s *Synthesizer) Substitutions() *Substitutions { return s.subst }

// LinkGenerator links g, and its factory generator if any, under their names.
// Linking the same generator again is a no-op.
func (s *Synthesizer) LinkGenerator(g *ClassGenerator) error {
	if g == nil {
		return fmt.Errorf("%w: nil generator", ErrIllegalArgument)
	}
	if g.synth != s {
		return fmt.Errorf("%w: %s", ErrForeignGenerator, g.name)
	}
	if err := s.link(g.name, g); err != nil {
		return err
	}
	if g.factory != nil {
		return s.link(g.factory.gen.name, g.factory.gen)
	}
	return nil
}

// LinkClass links an already defined class, typically from another synthesizer.
func (s *Synthesizer) LinkClass(c *Class) error {
	if c == nil {
		return fmt.Errorf("%w: nil class", ErrIllegalArgument)
	}
	return s.link(c.name, c)
}

func (s *Synthesizer) link(name string, v any) error {
	actual, loaded := s.links.LoadOrStore(name, v)
	if loaded && actual != v {
		return fmt.Errorf("%w: %s", ErrDuplicateLink, name)
	}
	return nil
}

// Load returns g's class, defining it on first use. g must be the generator linked
// under its name.
func (s *Synthesizer) Load(g *ClassGenerator) (*Class, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrIllegalArgument)
	}
	linked, ok := s.links.Load(g.name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, g.name)
	}
	if linked != g {
		return nil, fmt.Errorf("%w: %s", ErrStaleGenerator, g.name)
	}
	if c := g.generated.Load(); c != nil {
		return c, nil
	}
	return s.loader.load(g)
}

// Class resolves a linked name.
func (s *Synthesizer) Class(name string) (*Class, error) {
	return s.loader.find(name)
}

// Factory returns the singleton factory instance of g, a pointer to its factory base
// struct with every func field bridged to a constructor.
func (s *Synthesizer) Factory(g *ClassGenerator) (any, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrIllegalArgument)
	}
	if g.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, g.name)
	}
	return g.factory.Instance()
}

// FactoryOf is Factory asserted to the factory base type F.
func FactoryOf[F any](s *Synthesizer, g *ClassGenerator) (*F, error) {
	f, err := s.Factory(g)
	if err != nil {
		return nil, err
	}
	typed, ok := f.(*F)
	if !ok {
		var zero F
		return nil, fmt.Errorf("%w: factory of %s is %T, not *%T", ErrIllegalArgument, g.name, f, zero)
	}
	return typed, nil
}
