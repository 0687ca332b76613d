// Package hierarchy walks inheritance-like graphs: synthesized class chains and
// Go struct embedding.
package hierarchy

import (
	"reflect"
	"runtime"
)

// Walk returns root followed by every node reachable through parents, depth first in
// declaration order, each node exactly once.
func Walk[T comparable](root T, parents func(T) []T) []T {
	seen := make(map[T]struct{})
	var out []T
	var visit func(n T)
	visit = func(n T) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
		for _, p := range parents(n) {
			visit(p)
		}
	}
	visit(root)
	return out
}

// Path locates a struct type promoted into another through embedded fields.
type Path struct {
	Type  reflect.Type
	Index []int
	// Indirect is true when a pointer is dereferenced along the way.
	Indirect bool
}

// Depth is the number of embedding hops.
func (p Path) Depth() int { return len(p.Index) }

// Embedded returns the types reachable from t through embedded fields, shallowest
// first. t itself is not included. A type found more than once at its shallowest depth
// is ambiguous and dropped, like a conflicting promoted field.
func Embedded(t reflect.Type) []Path {
	t = deref(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	type level struct {
		typ      reflect.Type
		index    []int
		indirect bool
	}

	visited := map[reflect.Type]bool{t: true}
	var out []Path
	current := []level{{typ: t}}
	for len(current) > 0 {
		count := make(map[reflect.Type]int)
		var found []level
		for _, l := range current {
			for i := 0; i < l.typ.NumField(); i++ {
				f := l.typ.Field(i)
				if !f.Anonymous {
					continue
				}
				ft := f.Type
				indirect := l.indirect
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
					indirect = true
				}
				if ft.Kind() != reflect.Struct && ft.Kind() != reflect.Interface {
					continue
				}
				if visited[ft] {
					continue
				}
				count[ft]++
				idx := make([]int, len(l.index)+1)
				copy(idx, l.index)
				idx[len(l.index)] = i
				found = append(found, level{typ: ft, index: idx, indirect: indirect})
			}
		}

		var next []level
		for _, l := range found {
			if visited[l.typ] {
				continue
			}
			visited[l.typ] = true
			if count[l.typ] > 1 {
				continue
			}
			out = append(out, Path{Type: l.typ, Index: l.index, Indirect: l.indirect})
			if l.typ.Kind() == reflect.Struct {
				next = append(next, l)
			}
		}
		current = next
	}
	return out
}

// Find returns the embedding path from t to target.
func Find(t, target reflect.Type) (Path, bool) {
	for _, p := range Embedded(t) {
		if p.Type == target {
			return p, true
		}
	}
	return Path{}, false
}

// Method is an exported method with the type that declares it.
type Method struct {
	reflect.Method
	// Declarer is the shallowest type in the embedding graph providing the method.
	Declarer reflect.Type
}

// Methods lists the exported methods of t with their declaring type. Methods declared
// directly on t win over promoted ones.
func Methods(t reflect.Type) []Method {
	if t == nil {
		return nil
	}
	out := make([]Method, 0, t.NumMethod())
	paths := Embedded(t)
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		out = append(out, Method{Method: m, Declarer: declarer(t, paths, m.Name)})
	}
	return out
}

// Overrides reports whether t declares name itself while one of its embedded types
// also provides a method of that name.
func Overrides(t reflect.Type, name string) bool {
	if !declaresOwn(t, name) {
		return false
	}
	for _, p := range Embedded(t) {
		if hasMethod(p.Type, name) {
			return true
		}
	}
	return false
}

func declarer(t reflect.Type, paths []Path, name string) reflect.Type {
	if declaresOwn(t, name) {
		return t
	}
	for _, p := range paths {
		if declaresOwn(p.Type, name) {
			return p.Type
		}
	}
	return t
}

// declaresOwn reports whether name is declared on t (either receiver form) rather
// than promoted from an embedded field. Promotion and receiver adaptation go through
// compiler generated wrappers, declared methods do not.
func declaresOwn(t reflect.Type, name string) bool {
	base := deref(t)
	if base == nil {
		return false
	}
	if base.Kind() == reflect.Interface {
		_, ok := base.MethodByName(name)
		return ok
	}
	for _, rt := range []reflect.Type{base, reflect.PointerTo(base)} {
		m, ok := rt.MethodByName(name)
		if !ok {
			continue
		}
		if !autogenerated(m.Func) {
			return true
		}
	}
	return false
}

func autogenerated(fn reflect.Value) bool {
	if !fn.IsValid() {
		return true
	}
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return true
	}
	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}

func hasMethod(t reflect.Type, name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.MethodByName(name)
	if ok {
		return true
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		_, ok = reflect.PointerTo(t).MethodByName(name)
	}
	return ok
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
