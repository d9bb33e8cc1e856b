// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package descriptor_test

import (
	"testing"

	"github.com/creachadair/srpc/descriptor"
	"github.com/google/go-cmp/cmp"
)

func TestReturnMode(t *testing.T) {
	tests := []struct {
		mode descriptor.ReturnMode
		want descriptor.ReturnMode
	}{
		{descriptor.ReturnDefault, descriptor.ReturnAsync},
		{descriptor.ReturnVoid, descriptor.ReturnVoid},
		{descriptor.ReturnSync, descriptor.ReturnSync},
		{descriptor.ReturnAsync, descriptor.ReturnAsync},
	}
	for _, test := range tests {
		if got := test.mode.Effective(); got != test.want {
			t.Errorf("Effective(%q) = %q, want %q", test.mode, got, test.want)
		}
	}
}

func TestFuncLookup(t *testing.T) {
	obj := &descriptor.Object{
		Functions: []*descriptor.Func{
			{Name: "alpha", Returns: descriptor.ReturnSync},
			{Name: "beta"},
		},
	}

	if f := obj.Func("alpha"); f.Returns != descriptor.ReturnSync {
		t.Errorf("Func(alpha).Returns = %q, want sync", f.Returns)
	}
	if !obj.DeclaresFunc("beta") {
		t.Error("DeclaresFunc(beta) = false, want true")
	}

	// An undeclared name falls back to a bare descriptor with default mode.
	f := obj.Func("gamma")
	if f == nil || f.Name != "gamma" {
		t.Fatalf("Func(gamma) = %+v, want bare descriptor", f)
	}
	if f.Returns.Effective() != descriptor.ReturnAsync {
		t.Errorf("bare descriptor mode = %q, want async", f.Returns.Effective())
	}
	if obj.DeclaresFunc("gamma") {
		t.Error("DeclaresFunc(gamma) = true, want false")
	}

	// Lookups on a nil object still produce bare descriptors.
	var none *descriptor.Object
	if f := none.Func("delta"); f == nil || f.Name != "delta" {
		t.Errorf("nil.Func(delta) = %+v, want bare descriptor", f)
	}
}

func TestSparseArgs(t *testing.T) {
	fd := &descriptor.Func{
		Name: "f",
		Args: []*descriptor.Arg{
			{Idx: 2, Func: &descriptor.Func{Returns: descriptor.ReturnVoid}},
			{Idx: 0, Func: &descriptor.Func{Returns: descriptor.ReturnSync}},
		},
	}
	tests := []struct {
		idx  int
		want descriptor.ReturnMode
		ok   bool
	}{
		{0, descriptor.ReturnSync, true},
		{1, "", false},
		{2, descriptor.ReturnVoid, true},
		{3, "", false},
	}
	for _, test := range tests {
		a := fd.Arg(test.idx)
		if (a != nil) != test.ok {
			t.Errorf("Arg(%d) = %+v, want present=%v", test.idx, a, test.ok)
			continue
		}
		if test.ok && a.Func.Returns != test.want {
			t.Errorf("Arg(%d).Func.Returns = %q, want %q", test.idx, a.Func.Returns, test.want)
		}
	}

	var none *descriptor.Func
	if a := none.Arg(0); a != nil {
		t.Errorf("nil.Arg(0) = %+v, want nil", a)
	}
}

func TestEvents(t *testing.T) {
	obj := &descriptor.Object{
		Events: []*descriptor.Event{{Name: "data"}, {Name: "close"}},
	}

	ev, add := obj.EventName("add_data")
	if ev == nil || !add || ev.Name != "data" {
		t.Errorf("EventName(add_data) = %+v, %v; want data, true", ev, add)
	}
	ev, add = obj.EventName("remove_close")
	if ev == nil || add || ev.Name != "close" {
		t.Errorf("EventName(remove_close) = %+v, %v; want close, false", ev, add)
	}
	if ev, _ := obj.EventName("add_bogus"); ev != nil {
		t.Errorf("EventName(add_bogus) = %+v, want nil", ev)
	}
	if got := obj.Event("data").AddMethod(); got != "add_data" {
		t.Errorf("AddMethod = %q, want add_data", got)
	}
	if got := obj.Event("data").RemoveMethod(); got != "remove_data" {
		t.Errorf("RemoveMethod = %q, want remove_data", got)
	}
}

func TestClone(t *testing.T) {
	obj := &descriptor.Object{
		Functions:          []*descriptor.Func{{Name: "f"}},
		ReadonlyProperties: []string{"r"},
		Props:              map[string]any{"r": 1},
	}
	cp := obj.Clone()
	if diff := cmp.Diff(obj, cp); diff != "" {
		t.Errorf("Clone differs (-orig, +copy):\n%s", diff)
	}

	// Mutating the clone's snapshot must not affect the original.
	cp.Props["r"] = 2
	if obj.Props["r"] != 1 {
		t.Error("Clone shares the Props map with its original")
	}

	if cp := (*descriptor.Object)(nil).Clone(); cp != nil {
		t.Errorf("nil.Clone() = %+v, want nil", cp)
	}
}

func TestVisit(t *testing.T) {
	cls := &descriptor.Class{
		ClassID: "C",
		Ctor:    &descriptor.Func{Name: "ctor"},
		Static: &descriptor.Object{
			Functions: []*descriptor.Func{{Name: "s"}},
		},
		Instance: &descriptor.Object{
			Functions: []*descriptor.Func{{Name: "m"}},
			ProxiedProperties: []*descriptor.Property{{
				Name: "p",
				Get:  &descriptor.Func{Name: "get_p"},
				Set:  &descriptor.Func{Name: "set_p"},
			}},
			Events: []*descriptor.Event{{
				Name:     "e",
				Listener: &descriptor.Func{Name: "on_e"},
			}},
		},
	}

	var got []string
	cls.Visit(func(f *descriptor.Func) { got = append(got, f.Name) })
	want := []string{"ctor", "s", "m", "get_p", "set_p", "on_e"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Visit order (-want, +got):\n%s", diff)
	}
}
