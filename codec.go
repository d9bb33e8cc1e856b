// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"fmt"
	"reflect"

	"github.com/creachadair/srpc/descriptor"
)

// The codec translates values crossing the endpoint boundary to and from
// their wire form. Scalars pass through unchanged; plain maps and slices are
// walked recursively; functions, promises, and registered class instances are
// folded into tagged maps; proxies are folded into hostObject tags so they
// resolve back to their original targets on the peer.
//
// Encoding failures are fatal to the call they occur in, never to the
// session.

// encodeValue renders v into wire form, emitting on out any side traffic the
// encoding requires (promise settlement forwarding). When v is a function, d
// optionally describes how the peer should call it back.
func (e *Endpoint) encodeValue(out *Channel, v any, d *descriptor.Func) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *ProxyObject:
		return tagHostObjectValue(t.id), nil
	case *ProxyFunc:
		return tagHostObjectValue(t.id), nil
	case *ProxyClass:
		return tagHostObjectValue(t.id), nil
	case *Promise:
		return e.encodePromise(out, t)
	case map[string]any:
		enc := make(map[string]any, len(t))
		for k, ev := range t {
			w, err := e.encodeValue(out, ev, nil)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			enc[k] = w
		}
		return enc, nil
	case []any:
		enc := make([]any, len(t))
		for i, ev := range t {
			w, err := e.encodeValue(out, ev, nil)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			enc[i] = w
		}
		return enc, nil
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		return tagFunctionValue(e.registerWireFunc(v, d)), nil
	}
	if cls := e.classOf(v); cls != nil {
		return e.encodeInstance(out, v, cls)
	}
	return v, nil
}

// encodeArgs renders a call argument list, matching positional argument
// descriptors from fd.
func (e *Endpoint) encodeArgs(out *Channel, args []any, fd *descriptor.Func) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	enc := make([]any, len(args))
	for i, a := range args {
		var d *descriptor.Func
		if ad := fd.Arg(i); ad != nil {
			d = ad.Func
		}
		w, err := e.encodeValue(out, a, d)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		enc[i] = w
	}
	return enc, nil
}

// registerWireFunc ensures fn has a host-function registration and returns
// its id. Registration is stamped by code pointer, so re-serializing the same
// function reuses the same id.
func (e *Endpoint) registerWireFunc(fn any, d *descriptor.Func) string {
	stamp := reflect.ValueOf(fn).Pointer()
	e.μ.Lock()
	defer e.μ.Unlock()
	if id, ok := e.stamps[stamp]; ok {
		return id
	}
	id := e.newID()
	e.hostFuncs[id] = &hostEntry{id: id, target: fn, fn: d, stamp: stamp, auto: true}
	e.stamps[stamp] = id
	return id
}

// encodePromise auto-registers p as a host object under the reserved Promise
// class and starts a forwarder that reports its settlement to the peer as an
// async fn_reply keyed by the registration id.
func (e *Endpoint) encodePromise(out *Channel, p *Promise) (any, error) {
	stamp := reflect.ValueOf(p).Pointer()

	e.μ.Lock()
	if id, ok := e.stamps[stamp]; ok {
		e.μ.Unlock()
		return tagObjectValue(ClassIDPromise, id, nil), nil
	}
	id := e.newID()
	e.hostObjects[id] = &hostEntry{id: id, target: p, stamp: stamp, auto: true}
	e.stamps[stamp] = id
	e.μ.Unlock()

	e.tasks.Go(func() error {
		select {
		case <-p.Done():
			v, err := p.Result()
			e.sendSettlement(out, id, v, err)
			e.dropHost(id)
		case <-e.stopc:
		}
		return nil
	})
	return tagObjectValue(ClassIDPromise, id, nil), nil
}

// sendSettlement delivers the settlement of a promise or deferred call as an
// async fn_reply on out.
func (e *Endpoint) sendSettlement(out *Channel, callID string, v any, rerr error) {
	msg := newMessage(ActionReply)
	msg.CallType = CallAsync
	msg.CallID = callID
	if rerr != nil {
		msg.Success = false
		msg.Result = rerr.Error()
	} else {
		enc, err := e.encodeValue(out, v, nil)
		if err != nil {
			msg.Success = false
			msg.Result = err.Error()
		} else {
			msg.Success = true
			msg.Result = enc
		}
	}
	e.send(out, msg)
}

// encodeInstance renders an instance of a registered host class, registering
// the instance so identity is preserved and snapshotting its readonly
// properties.
func (e *Endpoint) encodeInstance(out *Channel, v any, cls *HostClass) (any, error) {
	stamp := reflect.ValueOf(v).Pointer()

	e.μ.Lock()
	id, known := e.stamps[stamp]
	if !known {
		id = e.newID()
		var inst *descriptor.Object
		if cls.Desc != nil {
			inst = cls.Desc.Instance
		}
		e.hostObjects[id] = &hostEntry{id: id, target: v, obj: inst, stamp: stamp, auto: true}
		e.stamps[stamp] = id
	}
	e.μ.Unlock()

	var props map[string]any
	if cls.Desc != nil && cls.Desc.Instance != nil {
		for _, name := range cls.Desc.Instance.ReadonlyProperties {
			pv, err := getProp(v, name)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			enc, err := e.encodeValue(out, pv, nil)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			if props == nil {
				props = make(map[string]any)
			}
			props[name] = enc
		}
	}
	return tagObjectValue(cls.Desc.ClassID, id, props), nil
}

// classOf returns the registered host class whose instances include v, or
// nil.
func (e *Endpoint) classOf(v any) *HostClass {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return nil
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	for _, cls := range e.hostClasses {
		if cls.Type != nil && rt.AssignableTo(cls.Type) {
			return cls
		}
	}
	return nil
}

// decodeValue reconstructs a wire value. When the value is a function
// reference, d optionally describes how to call it.
func (e *Endpoint) decodeValue(out *Channel, v any, d *descriptor.Func) (any, error) {
	if tag, objID, classID, props, ok := taggedValue(v); ok {
		switch tag {
		case tagHostObject:
			return e.resolveHost(objID)
		case tagFunction:
			return e.proxyFuncFor(objID, d), nil
		case tagObject:
			if classID == ClassIDPromise {
				return e.pendingPromise(objID), nil
			}
			return e.proxyInstance(out, classID, objID, props)
		default:
			return nil, fmt.Errorf("unknown wire tag %q", tag)
		}
	}
	switch t := v.(type) {
	case map[string]any:
		dec := make(map[string]any, len(t))
		for k, ev := range t {
			w, err := e.decodeValue(out, ev, nil)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			dec[k] = w
		}
		return dec, nil
	case []any:
		dec := make([]any, len(t))
		for i, ev := range t {
			w, err := e.decodeValue(out, ev, nil)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			dec[i] = w
		}
		return dec, nil
	}
	return v, nil
}

// decodeArgs reconstructs a call argument list, matching positional argument
// descriptors from fd.
func (e *Endpoint) decodeArgs(out *Channel, args []any, fd *descriptor.Func) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	dec := make([]any, len(args))
	for i, a := range args {
		var d *descriptor.Func
		if ad := fd.Arg(i); ad != nil {
			d = ad.Func
		}
		w, err := e.decodeValue(out, a, d)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		dec[i] = w
	}
	return dec, nil
}

// resolveHost maps a hostObject tag back to the original local target.
// This is the receive half of the identity preservation rule: a proxy sent
// home resolves to the entity it proxies, not to a second proxy layer.
func (e *Endpoint) resolveHost(objID string) (any, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if ent, ok := e.hostObjects[objID]; ok {
		return ent.target, nil
	}
	if ent, ok := e.hostFuncs[objID]; ok {
		return ent.target, nil
	}
	if cls, ok := e.hostClasses[objID]; ok {
		return cls, nil
	}
	return nil, &ResolutionError{Kind: "object", ID: objID}
}

// pendingPromise returns the local promise standing in for the peer's
// deferred with the given id, creating and registering it on first sight.
// The promise settles when the peer's fn_reply for the id arrives.
func (e *Endpoint) pendingPromise(objID string) *Promise {
	e.μ.Lock()
	defer e.μ.Unlock()
	if pc, ok := e.acalls[objID]; ok {
		return pc.pr
	}
	pr := NewPromise()
	e.acalls[objID] = pendingCall{pr: pr}
	return pr
}

// proxyFuncFor returns the proxy for the peer's host function objID, creating
// it if needed. The call descriptor is taken from d if provided, otherwise
// from the remote descriptor cache.
func (e *Endpoint) proxyFuncFor(objID string, d *descriptor.Func) *ProxyFunc {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.proxyFuncLocked(objID, d)
}

func (e *Endpoint) proxyFuncLocked(objID string, d *descriptor.Func) *ProxyFunc {
	if pf, ok := e.pfuncs.Get(objID); ok {
		return pf
	}
	if d == nil {
		d = e.remote.functions[objID]
	}
	pf := &ProxyFunc{ep: e, id: objID, desc: d}
	pf.handle = e.pfuncs.Register(objID, pf, e.diedNotifier(objID))
	return pf
}

// proxyInstance returns the proxy for a class instance, creating it from the
// remote class descriptor cache if needed. Successive decodes of the same id
// yield the same proxy until it is finalized.
func (e *Endpoint) proxyInstance(out *Channel, classID, objID string, props map[string]any) (*ProxyObject, error) {
	e.μ.Lock()
	if po, ok := e.pobjs.Get(objID); ok {
		e.μ.Unlock()
		return po, nil
	}
	cdesc, ok := e.remote.byClassID[classID]
	e.μ.Unlock()
	if !ok {
		return nil, &ResolutionError{Kind: "class", ID: classID}
	}

	dec := make(map[string]any, len(props))
	for k, pv := range props {
		w, err := e.decodeValue(out, pv, nil)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		dec[k] = w
	}

	e.μ.Lock()
	defer e.μ.Unlock()
	if po, ok := e.pobjs.Get(objID); ok {
		return po, nil
	}
	po := &ProxyObject{ep: e, id: objID, desc: cdesc.Instance, props: dec}
	po.handle = e.pobjs.Register(objID, po, e.diedNotifier(objID))
	return po, nil
}

// diedNotifier returns the dispose hook for a proxy with the given id. The
// hook captures only the id, never the proxy, so the registry's weak
// reference is the proxy's only tie to the endpoint.
func (e *Endpoint) diedNotifier(objID string) func() {
	return func() { e.sendDied(objID) }
}
