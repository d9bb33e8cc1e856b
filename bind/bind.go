// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package bind provides adapters from srpc proxy functions to statically
// typed Go functions.
//
// A proxy call traffics in dynamic values: arguments are any, and an async
// result arrives as a *srpc.Promise. The adapters in this package hide both,
// awaiting deferred results and converting the settled value to the declared
// result type.
package bind

import (
	"context"
	"fmt"
	"reflect"

	"github.com/creachadair/srpc"
)

// Result invokes f with args, awaits a deferred result if the call mode
// produces one, and converts the settlement to type R.
func Result[R any](ctx context.Context, f *srpc.ProxyFunc, args ...any) (R, error) {
	var zero R
	v, err := f.Invoke(args...)
	if err != nil {
		return zero, err
	}
	if pr, ok := v.(*srpc.Promise); ok {
		v, err = pr.Await(ctx)
		if err != nil {
			return zero, err
		}
	}
	return convert[R](v)
}

// Func1 adapts f to a typed function of one argument returning R.
func Func1[A, R any](f *srpc.ProxyFunc) func(context.Context, A) (R, error) {
	return func(ctx context.Context, a A) (R, error) { return Result[R](ctx, f, a) }
}

// Func2 adapts f to a typed function of two arguments returning R.
func Func2[A, B, R any](f *srpc.ProxyFunc) func(context.Context, A, B) (R, error) {
	return func(ctx context.Context, a A, b B) (R, error) { return Result[R](ctx, f, a, b) }
}

// Void adapts f to a typed function invoked for effect only. Errors settling
// a deferred call are still reported.
func Void[A any](f *srpc.ProxyFunc) func(context.Context, A) error {
	return func(ctx context.Context, a A) error {
		v, err := f.Invoke(a)
		if err != nil {
			return err
		}
		if pr, ok := v.(*srpc.Promise); ok {
			if _, err := pr.Await(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// convert coerces a dynamic settlement value to type R, converting numeric
// widths the transport encoding flattened.
func convert[R any](v any) (R, error) {
	var zero R
	if v == nil {
		return zero, nil
	}
	if r, ok := v.(R); ok {
		return r, nil
	}
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return v.(R), nil // R is an interface type
	}
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(rt) {
		return rv.Convert(rt).Interface().(R), nil
	}
	return zero, fmt.Errorf("cannot convert %T to %v", v, rt)
}
