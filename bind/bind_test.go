// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bind_test

import (
	"context"
	"testing"

	"github.com/creachadair/srpc/bind"
	"github.com/creachadair/srpc/descriptor"
	"github.com/creachadair/srpc/endpoints"
)

func TestAdapters(t *testing.T) {
	loc := endpoints.NewLocal()
	defer loc.Stop()

	loc.A.
		RegisterFunc("add", func(a, b int) int { return a + b },
			&descriptor.Func{Name: "add", Returns: descriptor.ReturnSync}).
		RegisterFunc("greet", func(name string) string { return "hello " + name },
			&descriptor.Func{Name: "greet"}). // async: the adapter awaits
		RegisterFunc("note", func(string) {},
			&descriptor.Func{Name: "note", Returns: descriptor.ReturnVoid})
	if err := loc.Exchange(); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	ctx := context.Background()

	t.Run("Func2", func(t *testing.T) {
		pf, err := loc.B.ProxyFunc("add")
		if err != nil {
			t.Fatalf("ProxyFunc: %v", err)
		}
		add := bind.Func2[int, int, int](pf)
		v, err := add(ctx, 2, 3)
		if err != nil {
			t.Fatalf("add(2, 3): %v", err)
		}
		if v != 5 {
			t.Errorf("add(2, 3) = %d, want 5", v)
		}
	})

	t.Run("Func1Async", func(t *testing.T) {
		pf, err := loc.B.ProxyFunc("greet")
		if err != nil {
			t.Fatalf("ProxyFunc: %v", err)
		}
		greet := bind.Func1[string, string](pf)
		v, err := greet(ctx, "world")
		if err != nil {
			t.Fatalf("greet(world): %v", err)
		}
		if v != "hello world" {
			t.Errorf("greet(world) = %q, want %q", v, "hello world")
		}
	})

	t.Run("Void", func(t *testing.T) {
		pf, err := loc.B.ProxyFunc("note")
		if err != nil {
			t.Fatalf("ProxyFunc: %v", err)
		}
		note := bind.Void[string](pf)
		if err := note(ctx, "fyi"); err != nil {
			t.Errorf("note(fyi): %v", err)
		}
	})

	t.Run("Result", func(t *testing.T) {
		pf, err := loc.B.ProxyFunc("add")
		if err != nil {
			t.Fatalf("ProxyFunc: %v", err)
		}
		v, err := bind.Result[int64](ctx, pf, 4, 5)
		if err != nil {
			t.Fatalf("Result: %v", err)
		}
		if v != 9 {
			t.Errorf("Result = %d, want 9", v)
		}
	})
}
