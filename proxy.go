// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/creachadair/srpc/descriptor"
	"github.com/creachadair/srpc/wref"
)

// effectiveCallType maps a declared return mode to the call type actually
// used on out. An async call degrades to sync when the channel has no async
// transport; a sync call upgrades to async when it has no sync transport;
// void is never re-mapped.
func effectiveCallType(mode descriptor.ReturnMode, out *Channel) string {
	switch mode.Effective() {
	case descriptor.ReturnVoid:
		return CallVoid
	case descriptor.ReturnSync:
		if out.SendSync == nil {
			return CallAsync
		}
		return CallSync
	default:
		if out.SendAsync == nil {
			return CallSync
		}
		return CallAsync
	}
}

// invoke issues an outgoing call with the given action and call type.
// For CallVoid the result is nil; for CallSync it is the decoded reply value;
// for CallAsync it is a *Promise settled by the matching fn_reply.
func (e *Endpoint) invoke(out *Channel, ctype, action, objID, prop string, fd *descriptor.Func, args []any) (any, error) {
	endpointMetrics.callOut.Add(1)

	enc, err := e.encodeArgs(out, args, fd)
	if err != nil {
		endpointMetrics.callOutErr.Add(1)
		return nil, err
	}
	msg := newMessage(action)
	msg.CallType = ctype
	msg.ObjID = objID
	msg.Prop = prop
	msg.Args = enc

	switch ctype {
	case CallVoid:
		if err := e.send(out, msg); err != nil {
			endpointMetrics.callOutErr.Add(1)
			return nil, err
		}
		return nil, nil

	case CallSync:
		if out.SendSync == nil {
			endpointMetrics.callOutErr.Add(1)
			return nil, &ProtocolError{Reason: "channel has no synchronous transport"}
		}
		e.logMessage(msg, true)
		endpointMetrics.msgSent.Add(1)
		reply, err := out.SendSync(msg)
		if err != nil {
			endpointMetrics.callOutErr.Add(1)
			return nil, err
		}
		if reply == nil {
			endpointMetrics.callOutErr.Add(1)
			return nil, &ProtocolError{Reason: "no synchronous reply"}
		}
		if reply.Marker != Marker {
			endpointMetrics.callOutErr.Add(1)
			return nil, &ProtocolError{Reason: "reply lacks wire marker"}
		}
		if !reply.Success {
			endpointMetrics.callOutErr.Add(1)
			return nil, remoteError(reply.Result)
		}
		return e.decodeValue(out, reply.Result, nil)

	default: // CallAsync
		id, pr := e.registerCall()
		msg.CallID = id
		if err := e.send(out, msg); err != nil {
			e.releaseCall(id)
			endpointMetrics.callOutErr.Add(1)
			return nil, err
		}
		return pr, nil
	}
}

// A ProxyFunc is a locally synthesized stand-in for a function hosted by the
// peer. Its descriptor (if any) fixes the call mode and argument handling.
type ProxyFunc struct {
	ep     *Endpoint
	id     string
	desc   *descriptor.Func
	handle *wref.Handle

	mu       sync.Mutex
	wrappers map[reflect.Type]reflect.Value
}

// ID returns the host-function id the proxy refers to.
func (f *ProxyFunc) ID() string { return f.id }

// Disposed reports whether the proxy has been disposed.
func (f *ProxyFunc) Disposed() bool { return f.handle != nil && f.handle.Disposed() }

// Dispose marks the proxy disposed and notifies the origin that its host
// entry may be dropped. Further invocations fail with ErrDisposed.
func (f *ProxyFunc) Dispose() {
	if f.handle != nil {
		f.handle.Dispose()
	}
}

// Invoke calls the remote function, honoring its declared return mode. Void
// calls return (nil, nil) once the message is sent; sync calls return the
// decoded result; async calls return a *Promise.
func (f *ProxyFunc) Invoke(args ...any) (any, error) {
	out := f.ep.outChannel()
	ctype := effectiveCallType(f.mode(), out)
	if f.Disposed() {
		if ctype == CallAsync {
			return Rejected(ErrDisposed), nil
		}
		return nil, ErrDisposed
	}
	return f.ep.invoke(out, ctype, ActionFnCall, f.id, "", f.desc, args)
}

func (f *ProxyFunc) mode() descriptor.ReturnMode {
	if f.desc == nil {
		return descriptor.ReturnDefault
	}
	return f.desc.Returns
}

// typed materializes the proxy as a func of type t, so it can be passed to
// reflective host calls expecting a concrete function signature. Wrappers are
// cached per type: the same proxy always yields the same func value, which
// preserves listener identity across add/remove pairs.
func (f *ProxyFunc) typed(t reflect.Type) reflect.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fv, ok := f.wrappers[t]; ok {
		return fv
	}
	fv := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		args := make([]any, 0, len(in))
		for i, iv := range in {
			if t.IsVariadic() && i == len(in)-1 {
				for j := 0; j < iv.Len(); j++ {
					args = append(args, iv.Index(j).Interface())
				}
			} else {
				args = append(args, iv.Interface())
			}
		}
		v, err := f.Invoke(args...)
		if pr, ok := v.(*Promise); ok && wantsResult(t) {
			v, err = pr.Await(context.Background())
		}
		return foldOutputs(t, v, err)
	})
	if f.wrappers == nil {
		f.wrappers = make(map[reflect.Type]reflect.Value)
	}
	f.wrappers[t] = fv
	return fv
}

// wantsResult reports whether t has a non-error result the wrapper must
// produce, requiring an async call to be awaited.
func wantsResult(t reflect.Type) bool {
	for i := 0; i < t.NumOut(); i++ {
		if !t.Out(i).Implements(errType) {
			return true
		}
	}
	return false
}

// foldOutputs shapes a dynamic (value, error) pair into the output list of a
// func type t.
func foldOutputs(t reflect.Type, v any, err error) []reflect.Value {
	out := make([]reflect.Value, t.NumOut())
	for i := range out {
		ot := t.Out(i)
		if ot.Implements(errType) {
			if err != nil {
				out[i] = reflect.ValueOf(err)
			} else {
				out[i] = reflect.Zero(ot)
			}
			continue
		}
		if av, aerr := adaptArg(v, ot); aerr == nil {
			out[i] = av
		} else {
			out[i] = reflect.Zero(ot)
		}
	}
	return out
}

// A ProxyObject is a locally synthesized stand-in for an object hosted by the
// peer: a top-level registered object or an instance of a registered class.
type ProxyObject struct {
	ep     *Endpoint
	id     string
	desc   *descriptor.Object
	props  map[string]any
	handle *wref.Handle
}

// ID returns the host-object id the proxy refers to.
func (o *ProxyObject) ID() string { return o.id }

// Disposed reports whether the proxy has been disposed.
func (o *ProxyObject) Disposed() bool { return o.handle != nil && o.handle.Disposed() }

// Dispose marks the proxy disposed and notifies the origin that its host
// entry may be dropped. Further use fails with ErrDisposed.
func (o *ProxyObject) Dispose() {
	if o.handle != nil {
		o.handle.Dispose()
	}
}

func (o *ProxyObject) checkCall(ctype string) (any, error, bool) {
	if !o.Disposed() {
		return nil, nil, false
	}
	if ctype == CallAsync {
		return Rejected(ErrDisposed), nil, true
	}
	return nil, ErrDisposed, true
}

// Call invokes the named method on the host object. The call mode comes from
// the object descriptor's function entry for the name (default async).
func (o *ProxyObject) Call(method string, args ...any) (any, error) {
	out := o.ep.outChannel()
	fd := o.desc.Func(method)
	ctype := effectiveCallType(fd.Returns, out)
	if v, err, done := o.checkCall(ctype); done {
		return v, err
	}
	return o.ep.invoke(out, ctype, ActionMethodCall, o.id, method, fd, args)
}

// Get reads the named property. Readonly properties are served from the local
// snapshot; proxied properties round-trip to the host. A property read never
// uses void: an undeclared or void accessor reads synchronously when the
// channel allows it.
func (o *ProxyObject) Get(prop string) (any, error) {
	if o.Disposed() {
		return nil, ErrDisposed
	}
	if o.desc != nil && slices.Contains(o.desc.ReadonlyProperties, prop) {
		return o.props[prop], nil
	}
	var fd *descriptor.Func
	if pd := o.desc.Property(prop); pd != nil {
		fd = pd.Get
	}
	mode := descriptor.ReturnSync
	if fd != nil && fd.Returns.Effective() == descriptor.ReturnAsync {
		mode = descriptor.ReturnAsync
	}
	out := o.ep.outChannel()
	return o.ep.invoke(out, effectiveCallType(mode, out), ActionPropGet, o.id, prop, fd, nil)
}

// Set writes the named proxied property. A property write never uses async:
// it is synchronous when the channel allows it and degrades to void
// otherwise.
func (o *ProxyObject) Set(prop string, value any) error {
	if o.Disposed() {
		return ErrDisposed
	}
	var fd *descriptor.Func
	if pd := o.desc.Property(prop); pd != nil {
		fd = pd.Set
	}
	out := o.ep.outChannel()
	ctype := CallSync
	if (fd != nil && fd.Returns.Effective() == descriptor.ReturnVoid) || out.SendSync == nil {
		ctype = CallVoid
	}
	sfd := &descriptor.Func{Name: prop}
	if fd != nil {
		sfd.Args = fd.Args
	}
	_, err := o.ep.invoke(out, ctype, ActionPropSet, o.id, prop, sfd, []any{value})
	return err
}

// AddEventListener subscribes fn to the named event of the host object. The
// listener may be a Go func or a *ProxyFunc; passing the same value to
// RemoveEventListener cancels the subscription.
func (o *ProxyObject) AddEventListener(event string, fn any) error {
	return o.eventCall("add_"+event, event, fn)
}

// RemoveEventListener cancels a subscription made with AddEventListener.
func (o *ProxyObject) RemoveEventListener(event string, fn any) error {
	return o.eventCall("remove_"+event, event, fn)
}

// eventCall issues the add_/remove_ method call for an event subscription
// and waits for it to complete, so the subscription is in place when the
// call returns. Do not call it from inside a message handler.
func (o *ProxyObject) eventCall(method, event string, fn any) error {
	if o.Disposed() {
		return ErrDisposed
	}
	out := o.ep.outChannel()
	var ldesc *descriptor.Func
	if ev := o.desc.Event(event); ev != nil {
		ldesc = ev.Listener
	}
	fd := &descriptor.Func{
		Name: method,
		Args: []*descriptor.Arg{{Idx: 0, Func: ldesc}},
	}
	v, err := o.ep.invoke(out, effectiveCallType(fd.Returns, out), ActionMethodCall, o.id, method, fd, []any{fn})
	if err != nil {
		return err
	}
	if pr, ok := v.(*Promise); ok {
		if _, err := pr.Await(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// A ProxyClass is a locally synthesized stand-in for a class hosted by the
// peer. New constructs remote instances; Call, Get, and Set address the
// class's static face.
type ProxyClass struct {
	ep   *Endpoint
	id   string
	desc *descriptor.Class
}

// ID returns the host-class id the proxy refers to.
func (c *ProxyClass) ID() string { return c.id }

// ClassID returns the wire class identifier instances travel under.
func (c *ProxyClass) ClassID() string { return c.desc.ClassID }

// New constructs an instance of the class on the host and returns its proxy.
// Construction uses a synchronous call unless the constructor is declared
// async or the channel has no synchronous transport; in either case New waits
// for the instance. A class exposing no constructor reports a resolution
// error.
func (c *ProxyClass) New(args ...any) (*ProxyObject, error) {
	if c.desc.Ctor == nil {
		return nil, &ResolutionError{Kind: "ctor", ID: c.id}
	}
	out := c.ep.outChannel()
	mode := c.desc.Ctor.Returns
	if mode.Effective() == descriptor.ReturnVoid || mode == descriptor.ReturnDefault {
		mode = descriptor.ReturnSync // a construction always yields a value
	}
	v, err := c.ep.invoke(out, effectiveCallType(mode, out), ActionCtorCall, c.id, "", c.desc.Ctor, args)
	if err != nil {
		return nil, err
	}
	if pr, ok := v.(*Promise); ok {
		if v, err = pr.Await(context.Background()); err != nil {
			return nil, err
		}
	}
	po, ok := v.(*ProxyObject)
	if !ok {
		return nil, &ProtocolError{Reason: "construction did not yield an instance"}
	}
	return po, nil
}

// Call invokes a static method of the class.
func (c *ProxyClass) Call(method string, args ...any) (any, error) {
	out := c.ep.outChannel()
	var fd *descriptor.Func
	if c.desc.Static != nil {
		fd = c.desc.Static.Func(method)
	} else {
		fd = &descriptor.Func{Name: method}
	}
	return c.ep.invoke(out, effectiveCallType(fd.Returns, out), ActionMethodCall, c.id, method, fd, args)
}

// Get reads a static proxied property of the class.
func (c *ProxyClass) Get(prop string) (any, error) {
	out := c.ep.outChannel()
	var fd *descriptor.Func
	if pd := c.desc.Static.Property(prop); pd != nil {
		fd = pd.Get
	}
	mode := descriptor.ReturnSync
	if fd != nil && fd.Returns.Effective() == descriptor.ReturnAsync {
		mode = descriptor.ReturnAsync
	}
	return c.ep.invoke(out, effectiveCallType(mode, out), ActionPropGet, c.id, prop, fd, nil)
}

// Set writes a static proxied property of the class.
func (c *ProxyClass) Set(prop string, value any) error {
	out := c.ep.outChannel()
	var fd *descriptor.Func
	if pd := c.desc.Static.Property(prop); pd != nil {
		fd = pd.Set
	}
	ctype := CallSync
	if (fd != nil && fd.Returns.Effective() == descriptor.ReturnVoid) || out.SendSync == nil {
		ctype = CallVoid
	}
	sfd := &descriptor.Func{Name: prop}
	if fd != nil {
		sfd.Args = fd.Args
	}
	_, err := c.ep.invoke(out, ctype, ActionPropSet, c.id, prop, sfd, []any{value})
	return err
}
