// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// Host targets are ordinary Go values. Property and method names on the wire
// use lowerCamel spelling; on a struct target they resolve to the exported
// UpperCamel field or method of the same name, and on a map[string]any target
// they resolve by key. This mirrors the name folding convention of net/rpc
// style servers.

// exportName folds a wire member name to its exported Go spelling.
func exportName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// getProp reads the named property of target.
func getProp(target any, name string) (any, error) {
	if m, ok := target.(map[string]any); ok {
		return m[name], nil
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("target %T has no properties", target)
	}
	f := rv.FieldByName(exportName(name))
	if !f.IsValid() {
		return nil, &ResolutionError{Kind: "member", ID: name}
	}
	return f.Interface(), nil
}

// setProp writes the named property of target.
func setProp(target any, name string, value any) error {
	if m, ok := target.(map[string]any); ok {
		m[name] = value
		return nil
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer {
		return fmt.Errorf("target %T is not settable", target)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("target %T has no properties", target)
	}
	f := rv.FieldByName(exportName(name))
	if !f.IsValid() || !f.CanSet() {
		return &ResolutionError{Kind: "member", ID: name}
	}
	av, err := adaptArg(value, f.Type())
	if err != nil {
		return err
	}
	f.Set(av)
	return nil
}

// member resolves the named callable member of target: a func-valued map
// entry, an exported method, or an exported func-typed field.
func member(target any, name string) (reflect.Value, bool) {
	if m, ok := target.(map[string]any); ok {
		if fn, ok := m[name]; ok {
			fv := reflect.ValueOf(fn)
			if fv.Kind() == reflect.Func {
				return fv, true
			}
		}
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(target)
	if !rv.IsValid() {
		return reflect.Value{}, false
	}
	if mv := rv.MethodByName(exportName(name)); mv.IsValid() {
		return mv, true
	}
	ev := rv
	for ev.Kind() == reflect.Pointer {
		ev = ev.Elem()
	}
	if ev.Kind() == reflect.Struct {
		if f := ev.FieldByName(exportName(name)); f.IsValid() && f.Kind() == reflect.Func && !f.IsNil() {
			return f, true
		}
	}
	return reflect.Value{}, false
}

// hasMember reports whether target has any member (callable or property)
// under the given name.
func hasMember(target any, name string) bool {
	if _, ok := member(target, name); ok {
		return true
	}
	if m, ok := target.(map[string]any); ok {
		_, ok := m[name]
		return ok
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct && rv.FieldByName(exportName(name)).IsValid()
}

// callTarget invokes fn, a callable obtained from member or a registered host
// function, adapting each argument to the corresponding parameter type.
func callTarget(fn reflect.Value, args []any) (any, error) {
	if fn.Kind() != reflect.Func {
		return nil, &ResolutionError{Kind: "member", ID: fmt.Sprintf("%v", fn)}
	}
	ft := fn.Type()

	var in []reflect.Value
	if ft.IsVariadic() {
		fixed := ft.NumIn() - 1
		if len(args) < fixed {
			return nil, fmt.Errorf("call needs at least %d arguments, have %d", fixed, len(args))
		}
		in = make([]reflect.Value, 0, len(args))
		for i, a := range args {
			var pt reflect.Type
			if i < fixed {
				pt = ft.In(i)
			} else {
				pt = ft.In(fixed).Elem()
			}
			av, err := adaptArg(a, pt)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, av)
		}
	} else {
		if len(args) != ft.NumIn() {
			return nil, fmt.Errorf("call needs %d arguments, have %d", ft.NumIn(), len(args))
		}
		in = make([]reflect.Value, len(args))
		for i, a := range args {
			av, err := adaptArg(a, ft.In(i))
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in[i] = av
		}
	}
	return foldResults(fn.Call(in))
}

// foldResults reduces the return values of a reflective call to a single
// value and error. A trailing error result is split off; at most one
// non-error result is meaningful.
func foldResults(out []reflect.Value) (any, error) {
	var result any
	var rerr error
	for _, o := range out {
		if o.Type().Implements(errType) {
			if !o.IsNil() {
				rerr = o.Interface().(error)
			}
			continue
		}
		if result == nil {
			result = o.Interface()
		}
	}
	return result, rerr
}

// adaptArg converts a decoded wire value to the parameter type t.
//
// Beyond direct assignment it handles the impedance differences a wire
// crossing introduces: numeric widths lost to the transport encoding are
// converted back, proxy functions are materialized as typed funcs, and nested
// []any slices are adapted elementwise.
func adaptArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if pf, ok := v.(*ProxyFunc); ok && t.Kind() == reflect.Func {
		return pf.typed(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(t.Kind()) {
		return rv.Convert(t), nil
	}
	if t.Kind() == reflect.Slice && rv.Kind() == reflect.Slice {
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := adaptArg(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}
	if rv.Type().ConvertibleTo(t) && t.Kind() == reflect.String && rv.Kind() == reflect.String {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %v", v, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
