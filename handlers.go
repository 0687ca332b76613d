package xevent

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/trickstertwo/xevent/internal/hierarchy"
	"github.com/trickstertwo/xevent/synth"
	"github.com/trickstertwo/xevent/synth/cast"
)

var (
	contextType    = reflect.TypeFor[context.Context]()
	busType        = reflect.TypeFor[*Bus]()
	errorType      = reflect.TypeFor[error]()
	anyType        = reflect.TypeFor[any]()
	handlerType    = reflect.TypeFor[Handler]()
	dispatchType   = reflect.TypeFor[func(context.Context, any) error]()
	injectionsType = reflect.TypeFor[[]any]()
	dispatcherType = reflect.TypeFor[dispatcher]()
)

// dispatcher is implemented by every synthesized handler adapter.
type dispatcher interface {
	Dispatch(ctx context.Context, event any) error
}

// handlerMethod is one On* method of a receiver type together with the adapter class
// synthesized for it.
type handlerMethod struct {
	name      string
	eventType reflect.Type
	withCtx   bool
	withBus   bool
	class     *synth.Class
}

// bind instantiates the adapter around target and returns its Dispatch method.
func (m *handlerMethod) bind(target any, b *Bus) (HandlerFunc, error) {
	obj, err := m.class.New(target, []any{b})
	if err != nil {
		return nil, err
	}
	fn, err := synth.MethodAs[func(context.Context, any) error](obj, "Dispatch")
	if err != nil {
		return nil, err
	}
	return fn, nil
}

func (m *handlerMethod) subscription() *Subscription {
	return &Subscription{eventType: m.eventType, method: m.name, bind: m.bind}
}

// generate emits the adapter: Subscriber and Injections fields, a constructor taking
// both, and Dispatch calling the prebound method value.
func (m *handlerMethod) generate(rt reflect.Type) func(*synth.Emitter) error {
	return func(e *synth.Emitter) error {
		handle := e.Prebound("method")
		e.Field("Subscriber", rt).Field("Injections", injectionsType)
		e.Constructor(synth.Public, func(self *synth.Object, args []reflect.Value) error {
			if err := synth.RequireNonNil(args[0].Interface(), "subscriber"); err != nil {
				return err
			}
			if err := self.Set("Subscriber", args[0].Interface()); err != nil {
				return err
			}
			return self.Set("Injections", args[1].Interface())
		}, rt, injectionsType)
		e.Method("Dispatch", dispatchType, func(self *synth.Object, args []reflect.Value) []reflect.Value {
			fn := synth.PreboundAs[reflect.Value](handle)
			in := make([]reflect.Value, 0, 4)
			recv, err := self.Field("Subscriber")
			if err != nil {
				return errorResult(err)
			}
			in = append(in, recv)
			if m.withCtx {
				in = append(in, args[0])
			}
			if m.withBus {
				inj, err := self.Field("Injections")
				if err != nil {
					return errorResult(err)
				}
				in = append(in, inj.Index(0).Elem())
			}
			ev, err := cast.Convert(args[1], m.eventType)
			if err != nil {
				return errorResult(fmt.Errorf("xevent: %s cannot take %T: %w", m.name, args[1].Interface(), err))
			}
			in = append(in, ev)
			out := fn.Call(in)
			if len(out) == 1 && !out[0].IsNil() {
				return out
			}
			return []reflect.Value{reflect.Zero(errorType)}
		})
		return e.Err()
	}
}

func errorResult(err error) []reflect.Value {
	return []reflect.Value{reflect.ValueOf(&err).Elem()}
}

type receiverHandlers struct {
	methods []*handlerMethod
	err     error
}

// handlerSynthesizer turns subscriber types into subscriptions. Results are cached
// per type; concurrent first callers race and the first stored result wins.
type handlerSynthesizer struct {
	classes   *synth.Synthesizer
	receivers sync.Map // reflect.Type -> *receiverHandlers
	styles    sync.Map // reflect.Type -> error (nil when valid)
}

func newHandlerSynthesizer(s *synth.Synthesizer) *handlerSynthesizer {
	if s == nil {
		s = synth.Default()
	}
	return &handlerSynthesizer{classes: s}
}

// subscriptions builds the subscriptions of one subscriber object.
func (h *handlerSynthesizer) subscriptions(target any) ([]*Subscription, error) {
	rt := reflect.TypeOf(target)
	if err := h.checkStyle(rt); err != nil {
		return nil, err
	}
	if rt.Implements(handlerType) {
		sub, err := handlerSubscription(target)
		if err != nil {
			return nil, err
		}
		return []*Subscription{sub}, nil
	}
	methods, err := h.methodsOf(rt)
	if err != nil {
		return nil, err
	}
	subs := make([]*Subscription, len(methods))
	for i, m := range methods {
		subs[i] = m.subscription()
	}
	return subs, nil
}

// checkStyle rejects types that both implement Handler and declare On* methods, and
// types that do neither.
func (h *handlerSynthesizer) checkStyle(rt reflect.Type) error {
	if v, ok := h.styles.Load(rt); ok {
		err, _ := v.(error)
		return err
	}
	var on []string
	for _, m := range hierarchy.Methods(rt) {
		if isHandlerMethodName(m.Name) {
			on = append(on, m.Name)
		}
	}
	var err error
	switch isHandler := rt.Implements(handlerType); {
	case isHandler && len(on) > 0:
		err = &SubscriptionError{Type: rt, Reason: fmt.Sprintf("implements Handler and declares %s", strings.Join(on, ", "))}
	case !isHandler && len(on) == 0:
		err = &SubscriptionError{Type: rt, Reason: "no Handle method and no On* handler methods"}
	}
	v, _ := h.styles.LoadOrStore(rt, err)
	err, _ = v.(error)
	return err
}

func (h *handlerSynthesizer) methodsOf(rt reflect.Type) ([]*handlerMethod, error) {
	if v, ok := h.receivers.Load(rt); ok {
		r := v.(*receiverHandlers)
		return r.methods, r.err
	}
	v, _ := h.receivers.LoadOrStore(rt, h.scan(rt))
	r := v.(*receiverHandlers)
	return r.methods, r.err
}

// scan validates every On* method of rt and synthesizes its adapter class.
func (h *handlerSynthesizer) scan(rt reflect.Type) *receiverHandlers {
	var methods []*handlerMethod
	for _, hm := range hierarchy.Methods(rt) {
		if !isHandlerMethodName(hm.Name) {
			continue
		}
		m, err := inspectHandler(rt, hm.Method)
		if err != nil {
			return &receiverHandlers{err: err}
		}
		if err := h.synthesize(rt, hm.Method, m); err != nil {
			return &receiverHandlers{err: err}
		}
		methods = append(methods, m)
	}
	return &receiverHandlers{methods: methods}
}

var nameReplacer = strings.NewReplacer("{", "(", "}", ")", " ", "")

func (h *handlerSynthesizer) synthesize(rt reflect.Type, method reflect.Method, m *handlerMethod) error {
	g, err := h.classes.NewGenerator(nameReplacer.Replace(rt.String())+"."+method.Name+"$Handler",
		synth.WithAccess(synth.Public|synth.Final|synth.Synthetic),
		synth.Implements(dispatcherType),
		synth.Prebind("method", method.Func),
		synth.Generate(m.generate(rt)),
	)
	if err != nil {
		return err
	}
	if err := h.classes.LinkGenerator(g); err != nil {
		return err
	}
	c, err := h.classes.Load(g)
	if err != nil {
		return err
	}
	m.class = c
	return nil
}

// isHandlerMethodName reports whether name is On followed by an upper-case letter.
func isHandlerMethodName(name string) bool {
	if !strings.HasPrefix(name, "On") || len(name) == 2 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name[2:])
	return unicode.IsUpper(r)
}

// inspectHandler validates the signature of an On* method. Accepted shapes, after the
// receiver: [context.Context] [*Bus] event, returning nothing or error.
func inspectHandler(rt reflect.Type, method reflect.Method) (*handlerMethod, error) {
	ft := method.Type
	fail := func(format string, args ...any) error {
		return &SubscriptionError{Type: rt, Method: method.Name, Reason: fmt.Sprintf(format, args...)}
	}
	if ft.IsVariadic() {
		return nil, fail("variadic handler methods are not supported")
	}
	m := &handlerMethod{name: method.Name}
	i := 1
	if i < ft.NumIn() && ft.In(i) == contextType {
		m.withCtx = true
		i++
	}
	if i < ft.NumIn() && ft.In(i) == busType {
		m.withBus = true
		i++
	}
	switch n := ft.NumIn() - i; {
	case n == 0:
		return nil, fail("no event parameter")
	case n > 1:
		return nil, fail("%d event parameters, want 1", n)
	}
	et := ft.In(i)
	if reason := checkEventType(et); reason != "" {
		return nil, fail("%s", reason)
	}
	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return nil, fail("results must be none or error, got %d", ft.NumOut())
	}
	m.eventType = et
	return m, nil
}

// checkEventType returns why t cannot be an event type, or "". Events are matched by
// exact type or interface satisfaction, so types without a stable identity are refused.
func checkEventType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("primitive event type %s", t)
	case reflect.Array, reflect.Slice:
		return fmt.Sprintf("array event type %s", t)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("unsupported event type %s", t)
	case reflect.Map, reflect.Struct:
		if t.Name() == "" {
			return fmt.Sprintf("unnamed composite event type %s", t)
		}
	case reflect.Pointer:
		if reason := checkEventType(t.Elem()); reason != "" {
			return fmt.Sprintf("%s (via %s)", reason, t)
		}
	}
	return ""
}
