package synth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	stringType = reflect.TypeOf("")
	intType    = reflect.TypeOf(0)
)

type greeter interface {
	Greet(string) string
}

// pointGenerator emits a class with X and Y fields, a two-int constructor and Sum.
func pointGenerator(t *testing.T, s *Synthesizer, opts ...GeneratorOption) *ClassGenerator {
	t.Helper()
	gen := Generate(func(e *Emitter) error {
		e.Field("X", intType).Field("Y", intType)
		e.Constructor(Public, func(self *Object, args []reflect.Value) error {
			if err := self.Set("X", args[0].Interface()); err != nil {
				return err
			}
			return self.Set("Y", args[1].Interface())
		}, intType, intType)
		e.Method("Sum", reflect.TypeOf(func() int { return 0 }), func(self *Object, _ []reflect.Value) []reflect.Value {
			return []reflect.Value{reflect.ValueOf(self.Get("X").(int) + self.Get("Y").(int))}
		})
		return nil
	})
	g, err := s.NewGenerator("test.Point", append([]GeneratorOption{gen}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	return g
}

func TestLoadIsIdempotent(t *testing.T) {
	s := New()
	g := pointGenerator(t, s)

	c1, err := s.Load(g)
	require.NoError(t, err)
	c2, err := s.Load(g)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Same(t, c1, g.Generated())
}

func TestConcurrentLoadConvergesOnOneClass(t *testing.T) {
	s := New()
	g := pointGenerator(t, s)

	const n = 32
	classes := make([]*Class, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := s.Load(g)
			assert.NoError(t, err)
			classes[i] = c
		}(i)
	}
	close(start)
	wg.Wait()
	for _, c := range classes {
		assert.Same(t, classes[0], c)
	}
}

func TestNamesAreMangled(t *testing.T) {
	s := New()
	g1, err := s.NewGenerator("test.Same")
	require.NoError(t, err)
	g2, err := s.NewGenerator("test.Same")
	require.NoError(t, err)

	assert.NotEqual(t, g1.Name(), g2.Name())
	assert.True(t, strings.HasPrefix(g1.Name(), "test.Same$"))
	assert.Equal(t, "test.Same", g1.BaseName())
}

func TestDuplicateLink(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Dup")
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	require.NoError(t, s.LinkGenerator(g), "relinking the same generator is idempotent")

	imposter := &ClassGenerator{synth: s, name: g.name, base: g.base, access: Public, values: newPreboundValues()}
	err = s.LinkGenerator(imposter)
	require.ErrorIs(t, err, ErrDuplicateLink)

	_, err = s.Load(imposter)
	require.ErrorIs(t, err, ErrStaleGenerator)
}

func TestLoadRequiresLink(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Unlinked")
	require.NoError(t, err)
	_, err = s.Load(g)
	require.ErrorIs(t, err, ErrNotLinked)

	other := New()
	require.ErrorIs(t, other.LinkGenerator(g), ErrForeignGenerator)
}

func TestPreboundValues(t *testing.T) {
	p := newPreboundValues()
	require.NoError(t, p.Put("a", 1))
	require.NoError(t, p.Put("a", 1), "same value is a no-op")
	require.ErrorIs(t, p.Put("a", 2), ErrPreboundConflict)

	fn := func() {}
	require.NoError(t, p.Put("fn", fn))
	require.NoError(t, p.Put("fn", fn))
	require.NoError(t, p.Put("slice", []int{1}))

	v, err := p.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = p.Get("missing")
	require.ErrorIs(t, err, ErrUnboundValue)
	assert.Panics(t, func() { p.MustGet("missing") })
}

func TestPreboundBoundOnce(t *testing.T) {
	s := New()
	g := pointGenerator(t, s, Prebind("answer", 42))
	c, err := s.Load(g)
	require.NoError(t, err)

	require.Same(t, c, c.Prebound().Class())
	v, err := c.Prebound().Get("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.ErrorIs(t, g.Prebind("late", 1), ErrAlreadyBound)
	require.NoError(t, g.Prebind("answer", 42))

	other := &Class{name: "other"}
	require.ErrorIs(t, c.Prebound().bind(other), ErrAlreadyBound)
}

func TestPrebindOptionConflict(t *testing.T) {
	s := New()
	_, err := s.NewGenerator("test.Conflict", Prebind("k", 1), Prebind("k", 2))
	require.ErrorIs(t, err, ErrPreboundConflict)

	g, err := s.NewGenerator("test.Same", Prebind("k", 1), Prebind("k", 1))
	require.NoError(t, err)
	v, err := g.values.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoadRetriesAfterFailedInitialisation(t *testing.T) {
	s := New()
	errInit := errors.New("post-process failed")
	var attempts int
	g := pointGenerator(t, s,
		Prebind("answer", 42),
		PostProcess(func(*Class) error {
			attempts++
			if attempts < 3 {
				return errInit
			}
			return nil
		}),
	)

	_, err := s.Load(g)
	require.ErrorIs(t, err, errInit)
	assert.Nil(t, g.values.Class(), "values released with the discarded class")

	_, err = s.Load(g)
	require.ErrorIs(t, err, errInit, "the original failure repeats")
	assert.NotErrorIs(t, err, ErrAlreadyBound)

	c, err := s.Load(g)
	require.NoError(t, err)
	assert.Same(t, c, g.values.Class())
	assert.Equal(t, 3, attempts)
	v, err := c.Prebound().Get("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDefineOrdering(t *testing.T) {
	s := New()
	var order []string
	g, err := s.NewGenerator("test.Ordered",
		Prebind("value", "v"),
		Generate(func(e *Emitter) error {
			order = append(order, "generate")
			e.StaticField("Copy", stringType)
			ref := e.Prebound("value")
			e.StaticInit(func(c *Class) error {
				require.NotNil(t, c.Prebound(), "prebound values are installed before static init")
				f, err := c.Static("Copy")
				if err != nil {
					return err
				}
				f.SetString(ref.Get().(string))
				order = append(order, "static")
				return nil
			})
			return nil
		}),
		PostProcess(func(c *Class) error {
			f, err := c.Static("Copy")
			require.NoError(t, err)
			assert.Equal(t, "v", f.String())
			order = append(order, "post")
			return nil
		}),
	)
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	_, err = s.Load(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"generate", "static", "post"}, order)
}

func TestPreboundReferenceMustBeStaged(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Dangling", Generate(func(e *Emitter) error {
		e.Prebound("nowhere")
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	_, err = s.Load(g)
	require.ErrorIs(t, err, ErrUnboundValue)
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, g.Name(), ge.Class)
}

func TestObjects(t *testing.T) {
	s := New()
	g := pointGenerator(t, s)
	c, err := s.Load(g)
	require.NoError(t, err)

	o, err := c.New(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, o.Get("X"))

	sum, err := MethodAs[func() int](o, "Sum")
	require.NoError(t, err)
	assert.Equal(t, 7, sum())

	// Narrowing and widening go through the cast engine.
	require.NoError(t, o.Set("X", int8(10)))
	out, err := o.Call("Sum")
	require.NoError(t, err)
	assert.Equal(t, []any{14}, out)

	require.ErrorIs(t, o.Set("X", "ten"), ErrIllegalArgument)
	require.ErrorIs(t, o.Set("Z", 1), ErrNoSuchField)
	_, err = o.Call("Missing")
	require.ErrorIs(t, err, ErrNoSuchMethod)
	_, err = c.New("a")
	require.ErrorIs(t, err, ErrNoSuchConstructor)

	_, err = MethodAs[func() string](o, "Sum")
	require.ErrorIs(t, err, ErrIllegalArgument)
}

func TestInheritance(t *testing.T) {
	s := New()
	base := pointGenerator(t, s)
	g, err := s.NewGenerator("test.Point3",
		Super(base),
		Implements(reflect.TypeOf((*greeter)(nil)).Elem()),
		Generate(func(e *Emitter) error {
			parent := e.SuperConstructor(intType, intType)
			e.Field("Z", intType)
			e.Constructor(Public, func(self *Object, args []reflect.Value) error {
				if err := parent.Init(self, args[:2]); err != nil {
					return err
				}
				return self.Set("Z", args[2].Interface())
			}, intType, intType, intType)
			e.Method("Sum", reflect.TypeOf(func() int { return 0 }), func(self *Object, _ []reflect.Value) []reflect.Value {
				return []reflect.Value{reflect.ValueOf(self.Get("X").(int) + self.Get("Y").(int) + self.Get("Z").(int))}
			})
			e.Method("Greet", reflect.TypeOf(func(string) string { return "" }), func(_ *Object, args []reflect.Value) []reflect.Value {
				return []reflect.Value{reflect.ValueOf("hello " + args[0].String())}
			})
			return nil
		}))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))

	c, err := s.Load(g)
	require.NoError(t, err)
	parent, err := s.Load(base)
	require.NoError(t, err)

	assert.Same(t, parent, c.Super())
	assert.Equal(t, []*Class{c, parent}, c.Hierarchy())
	assert.True(t, c.IsSubclassOf(parent))
	assert.Len(t, c.Fields(), 3)

	o, err := c.New(1, 2, 3)
	require.NoError(t, err)
	res, err := o.Call("Sum")
	require.NoError(t, err)
	assert.Equal(t, []any{6}, res)

	greet, err := MethodAs[func(string) string](o, "Greet")
	require.NoError(t, err)
	assert.Equal(t, "hello go", greet("go"))
}

func TestAccessRules(t *testing.T) {
	s := New()

	final, err := s.NewGenerator("test.Final", WithAccess(Public|Final))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(final))
	sub, err := s.NewGenerator("test.Sub", Super(final))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(sub))
	_, err = s.Load(sub)
	require.ErrorIs(t, err, ErrFinalSuper)

	abstract, err := s.NewGenerator("test.Abstract", WithAccess(Public|Abstract), Generate(func(e *Emitter) error {
		e.Method("Run", reflect.TypeOf(func() {}), nil)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(abstract))
	ac, err := s.Load(abstract)
	require.NoError(t, err)
	_, err = ac.New()
	require.ErrorIs(t, err, ErrAbstract)

	concrete, err := s.NewGenerator("test.Concrete", SuperClass(ac))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(concrete))
	_, err = s.Load(concrete)
	require.ErrorIs(t, err, ErrMissingMethod)

	iface, err := s.NewGenerator("test.NoGreet", Implements(reflect.TypeOf((*greeter)(nil)).Elem()))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(iface))
	_, err = s.Load(iface)
	require.ErrorIs(t, err, ErrMissingMethod)
}

func TestEmitterValidation(t *testing.T) {
	s := New()
	cases := map[string]struct {
		emit func(*Emitter)
		want error
	}{
		"unexported field":  {func(e *Emitter) { e.Field("x", intType) }, ErrInvalidName},
		"duplicate field":   {func(e *Emitter) { e.Field("X", intType).Field("X", intType) }, ErrDuplicateMember},
		"reserved static":   {func(e *Emitter) { e.StaticField(preboundField, intType) }, ErrInvalidName},
		"variadic method":   {func(e *Emitter) { e.Method("V", reflect.TypeOf(func(...int) {}), nil) }, ErrIllegalArgument},
		"non func method":   {func(e *Emitter) { e.Method("V", intType, nil) }, ErrIllegalArgument},
		"unknown template":  {func(e *Emitter) { e.Const("{nope}") }, ErrUnknownSubstitution},
		"no parent":         {func(e *Emitter) { e.SuperConstructor() }, ErrNoSuchConstructor},
		"duplicate ctor":    {func(e *Emitter) { e.Constructor(Public, nil).Constructor(Public, nil) }, ErrDuplicateMember},
		"unresolvable name": {func(e *Emitter) { _, _ = e.Resolve("test.Nowhere") }, ErrClassNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			g, err := s.NewGenerator("test.Invalid", Generate(func(e *Emitter) error {
				tc.emit(e)
				return nil
			}))
			require.NoError(t, err)
			require.NoError(t, s.LinkGenerator(g))
			_, err = s.Load(g)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCircularHierarchy(t *testing.T) {
	s := New()
	a, err := s.NewGenerator("test.A")
	require.NoError(t, err)
	b, err := s.NewGenerator("test.B", Super(a))
	require.NoError(t, err)
	a.superGen = b
	require.NoError(t, s.LinkGenerator(a))
	require.NoError(t, s.LinkGenerator(b))

	_, err = s.Load(a)
	require.ErrorIs(t, err, ErrCircularity)
}

type pointFactory struct {
	New   func(x, y int) *Object
	Parse func(s string) (*Object, error)
}

func TestFactory(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Widget",
		WithFactory(reflect.TypeOf(pointFactory{})),
		Generate(func(e *Emitter) error {
			e.Field("X", intType).Field("Y", intType).Field("Label", stringType)
			e.Constructor(Private, func(self *Object, args []reflect.Value) error {
				_ = self.Set("X", args[0].Interface())
				return self.Set("Y", args[1].Interface())
			}, intType, intType)
			e.Constructor(Public, func(self *Object, args []reflect.Value) error {
				if args[0].String() == "" {
					return errors.New("empty label")
				}
				return self.Set("Label", args[0].Interface())
			}, stringType)
			return nil
		}))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	require.NotNil(t, g.Factory())

	c, err := s.Load(g)
	require.NoError(t, err)
	k, ok := c.Constructor(intType, intType)
	require.True(t, ok)
	_, err = k.NewInstance(1, 2)
	require.ErrorIs(t, err, ErrIllegalAccess, "private constructors are only reachable through the factory")

	f, err := FactoryOf[pointFactory](s, g)
	require.NoError(t, err)
	again, err := FactoryOf[pointFactory](s, g)
	require.NoError(t, err)
	assert.Same(t, f, again)

	o := f.New(5, 6)
	assert.Same(t, c, o.Class())
	assert.Equal(t, 6, o.Get("Y"))

	o, err = f.Parse("w")
	require.NoError(t, err)
	assert.Equal(t, "w", o.Get("Label"))
	_, err = f.Parse("")
	require.EqualError(t, err, "empty label")

	fc, err := s.Load(g.Factory().Generator())
	require.NoError(t, err)
	assert.True(t, fc.Access().Has(Final))
	h, err := fc.Prebound().Get("ctor.New")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestFactoryWithoutMatchingConstructor(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Bare", WithFactory(reflect.TypeOf(pointFactory{})))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))

	_, err = s.Factory(g)
	require.ErrorIs(t, err, ErrIllegalArgument)
	assert.Contains(t, err.Error(), "New")

	plain, err := s.NewGenerator("test.Plain")
	require.NoError(t, err)
	_, err = s.Factory(plain)
	require.ErrorIs(t, err, ErrNoFactory)

	_, err = s.NewGenerator("test.BadBase", WithFactory(reflect.TypeOf(struct{ N func() int }{})))
	require.ErrorIs(t, err, ErrIllegalArgument)
}

func TestSubstitutions(t *testing.T) {
	sub := NewSubstitutions()
	require.NoError(t, sub.Register("env", func() string { return "prod" }))
	require.ErrorIs(t, sub.Register("env", func() string { return "" }), ErrDuplicateMember)

	out, err := sub.Expand("svc.{env}.Handler")
	require.NoError(t, err)
	assert.Equal(t, "svc.prod.Handler", out)

	out, err = sub.Expand("{uid}-{uid}")
	require.NoError(t, err)
	parts := strings.Split(out, "-")
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0], parts[1])

	_, err = sub.Expand("{missing}")
	require.ErrorIs(t, err, ErrUnknownSubstitution)
	_, err = sub.Expand("{open")
	require.ErrorIs(t, err, ErrIllegalArgument)

	s := New(WithSubstitutions(sub))
	g, err := s.NewGenerator("svc.{env}.Thing")
	require.NoError(t, err)
	assert.Equal(t, "svc.prod.Thing", g.BaseName())
}

func TestClassLinking(t *testing.T) {
	a := New()
	g := pointGenerator(t, a)
	c, err := a.Load(g)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.LinkClass(c))
	found, err := b.Class(c.Name())
	require.NoError(t, err)
	assert.Same(t, c, found)

	sub, err := b.NewGenerator("test.Remote", SuperName(c.Name()))
	require.NoError(t, err)
	require.NoError(t, b.LinkGenerator(sub))
	sc, err := b.Load(sub)
	require.NoError(t, err)
	assert.Same(t, c, sc.Super())
}

func TestCloneSliceAndRequireNonNil(t *testing.T) {
	in := [][]int{{1}, {2}}
	out := CloneSlice(reflect.ValueOf(in)).Interface().([][]int)
	out[0][0] = 9
	assert.Equal(t, 1, in[0][0])

	assert.NoError(t, RequireNonNil(1, "n"))
	var ctx context.Context
	assert.ErrorIs(t, RequireNonNil(ctx, "ctx"), ErrIllegalArgument)
	var p *int
	assert.ErrorIs(t, RequireNonNil(p, "p"), ErrIllegalArgument)
}

func TestObjectString(t *testing.T) {
	s := New()
	g, err := s.NewGenerator("test.Named", Generate(func(e *Emitter) error {
		e.Field("N", intType)
		e.Method("String", stringerType, func(self *Object, _ []reflect.Value) []reflect.Value {
			return []reflect.Value{reflect.ValueOf(fmt.Sprintf("named(%d)", self.Get("N")))}
		})
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, s.LinkGenerator(g))
	c, err := s.Load(g)
	require.NoError(t, err)
	o, err := c.New()
	require.NoError(t, err)
	require.NoError(t, o.Set("N", 3))
	assert.Equal(t, "named(3)", o.String())
	assert.Equal(t, "test.Named", c.SimpleName())
}
