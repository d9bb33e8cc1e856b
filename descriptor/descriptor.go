// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package descriptor defines the declarative shape of entities exposed
// through an srpc endpoint.
//
// A descriptor records which members of a host entity are visible to the
// remote peer and how each one is called. Descriptors are exchanged between
// endpoints verbatim; they carry no references to the live targets they
// describe.
package descriptor

import "fmt"

// A ReturnMode describes how a call to a function is completed.
type ReturnMode string

const (
	// ReturnDefault means no mode was declared; callers treat it as ReturnAsync.
	ReturnDefault ReturnMode = ""

	ReturnVoid  ReturnMode = "void"  // no reply is sent
	ReturnSync  ReturnMode = "sync"  // the caller blocks for the reply
	ReturnAsync ReturnMode = "async" // the reply is delivered asynchronously
)

// Effective returns the declared mode, or ReturnAsync if none was declared.
func (m ReturnMode) Effective() ReturnMode {
	if m == ReturnDefault {
		return ReturnAsync
	}
	return m
}

// A Func describes a single callable exposed by a host entity.
type Func struct {
	// Name is the member name of the function, empty for anonymous functions.
	Name string `json:"name,omitempty" cbor:"1,keyasint,omitempty"`

	// Returns declares the completion mode of the call. An empty value is
	// equivalent to ReturnAsync.
	Returns ReturnMode `json:"returns,omitempty" cbor:"2,keyasint,omitempty"`

	// Args describes argument positions that need special handling, notably
	// positions whose values are themselves functions. Entries may be sparse;
	// each names its own position.
	Args []*Arg `json:"args,omitempty" cbor:"3,keyasint,omitempty"`
}

// Arg returns the descriptor for the argument at position idx, or nil if the
// position is not declared. Argument descriptors may be declared sparsely, so
// position is matched by the Idx field rather than slice order.
func (f *Func) Arg(idx int) *Arg {
	if f == nil {
		return nil
	}
	for _, a := range f.Args {
		if a != nil && a.Idx == idx {
			return a
		}
	}
	return nil
}

// An Arg describes one argument position of a Func.
type Arg struct {
	// Idx is the zero-based position of the argument.
	Idx int `json:"idx" cbor:"1,keyasint"`

	// Func is set when the argument at this position is itself a function,
	// and describes how the receiving side should call it back.
	Func *Func `json:"func,omitempty" cbor:"2,keyasint,omitempty"`
}

// A Property describes a proxied property of an object. Reads and writes of
// the property are forwarded to the host.
type Property struct {
	Name string `json:"name" cbor:"1,keyasint"`

	// Get and Set optionally override the call behavior of the accessor pair.
	// A nil Get or Set uses default behavior (sync when available).
	Get *Func `json:"get,omitempty" cbor:"2,keyasint,omitempty"`
	Set *Func `json:"set,omitempty" cbor:"3,keyasint,omitempty"`
}

// An Event describes an event source exposed by an object. On the wire an
// event expands to a pair of methods named "add_<name>" and "remove_<name>";
// on the host side those map to AddEventListener and RemoveEventListener.
type Event struct {
	Name string `json:"name" cbor:"1,keyasint"`

	// Listener describes the listener function passed to the add call, in
	// particular its return mode when invoked from the host.
	Listener *Func `json:"listener,omitempty" cbor:"2,keyasint,omitempty"`
}

// AddMethod and RemoveMethod return the wire method names for the event pair.
func (e *Event) AddMethod() string    { return "add_" + e.Name }
func (e *Event) RemoveMethod() string { return "remove_" + e.Name }

// EventName reports whether method names an event pair member of o, and if so
// returns the event and whether the member is the add half.
func (o *Object) EventName(method string) (ev *Event, add bool) {
	for _, e := range o.events() {
		switch method {
		case e.AddMethod():
			return e, true
		case e.RemoveMethod():
			return e, false
		}
	}
	return nil, false
}

// An Object describes the exposed surface of a host object, or one face
// (static or instance) of a host class.
type Object struct {
	// Functions lists the plain methods of the object.
	Functions []*Func `json:"functions,omitempty" cbor:"1,keyasint,omitempty"`

	// ReadonlyProperties lists properties whose values are snapshotted when
	// the descriptor is shipped (or when an instance crosses the boundary),
	// and served locally by the proxy thereafter.
	ReadonlyProperties []string `json:"readonlyProperties,omitempty" cbor:"2,keyasint,omitempty"`

	// ProxiedProperties lists properties whose reads and writes round-trip to
	// the host.
	ProxiedProperties []*Property `json:"proxiedProperties,omitempty" cbor:"3,keyasint,omitempty"`

	// Events lists event sources exposed as add_/remove_ method pairs.
	Events []*Event `json:"events,omitempty" cbor:"4,keyasint,omitempty"`

	// Props carries the snapshot values of ReadonlyProperties. It is populated
	// by the sending endpoint just before the descriptor is shipped, and is
	// empty on descriptors that have not crossed the wire.
	Props map[string]any `json:"props,omitempty" cbor:"5,keyasint,omitempty"`
}

func (o *Object) events() []*Event {
	if o == nil {
		return nil
	}
	return o.Events
}

// Func returns the descriptor for the named function. If o does not declare
// the name, Func returns a bare descriptor carrying only the name, so that
// lookups on undeclared members fall back to default call behavior.
func (o *Object) Func(name string) *Func {
	if o != nil {
		for _, f := range o.Functions {
			if f != nil && f.Name == name {
				return f
			}
		}
	}
	return &Func{Name: name}
}

// DeclaresFunc reports whether o explicitly declares the named function.
func (o *Object) DeclaresFunc(name string) bool {
	if o == nil {
		return false
	}
	for _, f := range o.Functions {
		if f != nil && f.Name == name {
			return true
		}
	}
	return false
}

// Event returns the descriptor for the named event, or nil.
func (o *Object) Event(name string) *Event {
	for _, e := range o.events() {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Property returns the descriptor for the named proxied property, or nil.
func (o *Object) Property(name string) *Property {
	if o == nil {
		return nil
	}
	for _, p := range o.ProxiedProperties {
		if p != nil && p.Name == name {
			return p
		}
	}
	return nil
}

// A Class bundles the exposed parts of a host class: an optional constructor,
// a static face, and an instance face. Instances of the class are recognized
// on the wire by ClassID.
type Class struct {
	ClassID  string  `json:"classId" cbor:"1,keyasint"`
	Ctor     *Func   `json:"ctor,omitempty" cbor:"2,keyasint,omitempty"`
	Static   *Object `json:"static,omitempty" cbor:"3,keyasint,omitempty"`
	Instance *Object `json:"instance,omitempty" cbor:"4,keyasint,omitempty"`
}

// Clone returns a copy of o with its own slices and Props map. The Func,
// Property, and Event descriptors the slices point to, and the Props values,
// are shared with the original. Endpoints clone descriptors before attaching snapshot values, so that
// registration state is not mutated by shipping.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	cp := &Object{
		Functions:          append([]*Func(nil), o.Functions...),
		ReadonlyProperties: append([]string(nil), o.ReadonlyProperties...),
		ProxiedProperties:  append([]*Property(nil), o.ProxiedProperties...),
		Events:             append([]*Event(nil), o.Events...),
	}
	if o.Props != nil {
		cp.Props = make(map[string]any, len(o.Props))
		for k, v := range o.Props {
			cp.Props[k] = v
		}
	}
	return cp
}

// Visit applies fn to every function descriptor reachable from o: plain
// functions, property accessors, and event listeners, in that order. It can
// serve as a processing hook over a descriptor before it is shipped to the
// peer; the srpc endpoint does not call it when shipping descriptors.
func (o *Object) Visit(fn func(*Func)) {
	if o == nil {
		return
	}
	for _, f := range o.Functions {
		if f != nil {
			fn(f)
		}
	}
	for _, p := range o.ProxiedProperties {
		if p == nil {
			continue
		}
		if p.Get != nil {
			fn(p.Get)
		}
		if p.Set != nil {
			fn(p.Set)
		}
	}
	for _, e := range o.Events {
		if e != nil && e.Listener != nil {
			fn(e.Listener)
		}
	}
}

// Visit applies fn to every function descriptor reachable from c.
func (c *Class) Visit(fn func(*Func)) {
	if c == nil {
		return
	}
	if c.Ctor != nil {
		fn(c.Ctor)
	}
	c.Static.Visit(fn)
	c.Instance.Visit(fn)
}

// String returns a compact rendering of f for diagnostics.
func (f *Func) String() string {
	return fmt.Sprintf("Func(%q, returns=%s)", f.Name, f.Returns.Effective())
}
