// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"fmt"
	"reflect"

	"github.com/creachadair/srpc/descriptor"
)

// handleMessage routes one inbound message. It is installed as the receive
// handler of the bound channel and invoked directly by synchronous
// transports, whose reply (if any) it returns.
func (e *Endpoint) handleMessage(msg *Message, reply *Channel, context any) *Message {
	endpointMetrics.msgRecv.Add(1)
	if msg == nil || msg.Marker != Marker {
		endpointMetrics.msgDropped.Add(1)
		return nil
	}
	e.μ.Lock()
	stopped := e.stopped
	e.μ.Unlock()
	if stopped {
		endpointMetrics.msgDropped.Add(1)
		return nil
	}
	e.logMessage(msg, false)

	out := reply
	if out == nil {
		out = e.channel()
	}

	restore := e.setCurrent(out, context)
	defer restore()

	switch msg.Action {
	case ActionGetDescriptors:
		d := e.buildDescriptors(out)
		if msg.CallType == CallSync {
			return d
		}
		e.send(out, d)
		return nil

	case ActionDescriptors:
		e.ingestDescriptors(msg)
		return nil

	case ActionObjDied:
		e.dropHost(msg.ObjID)
		return nil

	case ActionReply:
		e.settleReply(out, msg)
		return nil

	case ActionFnCall, ActionCtorCall, ActionMethodCall, ActionPropGet, ActionPropSet:
		return e.dispatchCall(out, context, msg)
	}
	endpointMetrics.msgDropped.Add(1)
	return nil
}

// settleReply completes the pending deferred call matching an async
// fn_reply. A settlement arriving before the value that carries its id has
// been decoded (possible when the forwarder for an already-settled promise
// outruns the call message) is parked as a settled entry for the decoder to
// find; replies for call ids that were explicitly released are parked the
// same way and never claimed.
func (e *Endpoint) settleReply(out *Channel, msg *Message) {
	e.μ.Lock()
	pc, ok := e.acalls[msg.CallID]
	if ok {
		delete(e.acalls, msg.CallID)
	} else {
		pc = pendingCall{pr: NewPromise()}
		e.acalls[msg.CallID] = pc
	}
	e.μ.Unlock()
	if ok && pc.counted {
		endpointMetrics.callPending.Add(-1)
	}

	if !msg.Success {
		if pc.counted {
			endpointMetrics.callOutErr.Add(1)
		}
		pc.pr.Reject(remoteError(msg.Result))
		return
	}
	v, err := e.decodeValue(out, msg.Result, nil)
	if err != nil {
		pc.pr.Reject(err)
		return
	}
	pc.pr.Resolve(v)
}

// dispatchCall executes a call-family message and produces its reply
// according to the call type: a synchronous reply message for sync, an
// eventual fn_reply on out for async, nothing for void.
//
// Sync and void calls run on the dispatching goroutine; async calls run on
// their own task so a host function that suspends cannot stall the channel.
func (e *Endpoint) dispatchCall(out *Channel, context any, msg *Message) *Message {
	endpointMetrics.callIn.Add(1)

	if msg.CallType == CallAsync {
		e.tasks.Go(func() error {
			restore := e.setCurrent(out, context)
			v, err := e.evalCall(out, msg)
			restore()
			e.asyncReply(out, msg.CallID, v, err)
			return nil
		})
		return nil
	}

	v, err := e.evalCall(out, msg)
	if msg.CallType == CallVoid {
		if err != nil {
			endpointMetrics.callInErr.Add(1)
		}
		return nil
	}
	return e.syncReply(out, v, err)
}

// syncReply shapes a call outcome into a synchronous reply message.
// A host-side error is reduced to its string form.
func (e *Endpoint) syncReply(out *Channel, v any, rerr error) *Message {
	msg := newMessage(ActionReply)
	msg.CallType = CallSync
	if rerr != nil {
		endpointMetrics.callInErr.Add(1)
		msg.Result = rerr.Error()
		return msg
	}
	enc, err := e.encodeValue(out, v, nil)
	if err != nil {
		endpointMetrics.callInErr.Add(1)
		msg.Result = err.Error()
		return msg
	}
	msg.Success = true
	msg.Result = enc
	return msg
}

// asyncReply coerces a call outcome into a deferred and reports its
// settlement as an fn_reply keyed by callID. A result that is already a
// promise is awaited; anything else settles immediately.
func (e *Endpoint) asyncReply(out *Channel, callID string, v any, rerr error) {
	if rerr != nil {
		endpointMetrics.callInErr.Add(1)
		e.sendSettlement(out, callID, nil, rerr)
		return
	}
	pr, ok := v.(*Promise)
	if !ok {
		e.sendSettlement(out, callID, v, nil)
		return
	}
	select {
	case <-pr.Done():
		rv, err := pr.Result()
		if err != nil {
			endpointMetrics.callInErr.Add(1)
		}
		e.sendSettlement(out, callID, rv, err)
	case <-e.stopc:
	}
}

// evalCall resolves and executes the target of a call-family message. A
// panic out of the target is recovered and reported as the call's error.
func (e *Endpoint) evalCall(out *Channel, msg *Message) (v any, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("call panicked (recovered): %v", x)
		}
	}()

	switch msg.Action {
	case ActionPropGet:
		target, _, rerr := e.callTargetFor(msg.ObjID)
		if rerr != nil {
			return nil, rerr
		}
		return getProp(target, msg.Prop)

	case ActionPropSet:
		return nil, e.evalPropSet(out, msg)

	case ActionMethodCall:
		return e.evalMethodCall(out, msg)

	case ActionFnCall:
		e.μ.Lock()
		ent, ok := e.hostFuncs[msg.ObjID]
		e.μ.Unlock()
		if !ok {
			return nil, &ResolutionError{Kind: "function", ID: msg.ObjID}
		}
		args, err := e.decodeArgs(out, msg.Args, ent.fn)
		if err != nil {
			return nil, err
		}
		return callTarget(reflect.ValueOf(ent.target), args)

	case ActionCtorCall:
		e.μ.Lock()
		cls, ok := e.hostClasses[msg.ObjID]
		e.μ.Unlock()
		if !ok {
			return nil, &ResolutionError{Kind: "class", ID: msg.ObjID}
		}
		if cls.Ctor == nil {
			return nil, &ResolutionError{Kind: "ctor", ID: msg.ObjID}
		}
		args, err := e.decodeArgs(out, msg.Args, cls.Desc.Ctor)
		if err != nil {
			return nil, err
		}
		return callTarget(reflect.ValueOf(cls.Ctor), args)
	}
	return nil, fmt.Errorf("unknown call action %q", msg.Action)
}

// evalPropSet applies a property write. When the incoming value is a promise
// and the property's getter is declared async (or the channel has no
// synchronous transport), the resolved value is assigned once the promise
// settles; otherwise the promise object itself is assigned directly.
func (e *Endpoint) evalPropSet(out *Channel, msg *Message) error {
	target, odesc, rerr := e.callTargetFor(msg.ObjID)
	if rerr != nil {
		return rerr
	}
	if len(msg.Args) != 1 {
		return fmt.Errorf("prop_set needs 1 argument, have %d", len(msg.Args))
	}
	pd := odesc.Property(msg.Prop)
	var sfd *descriptor.Func
	if pd != nil {
		sfd = pd.Set
	}
	var ad *descriptor.Func
	if a := sfd.Arg(0); a != nil {
		ad = a.Func
	}
	v, err := e.decodeValue(out, msg.Args[0], ad)
	if err != nil {
		return err
	}

	if pr, ok := v.(*Promise); ok {
		getterAsync := pd != nil && pd.Get != nil && pd.Get.Returns.Effective() == descriptor.ReturnAsync
		if getterAsync || out.SendSync == nil {
			prop := msg.Prop
			e.tasks.Go(func() error {
				select {
				case <-pr.Done():
					if rv, err := pr.Result(); err == nil {
						setProp(target, prop, rv)
					}
				case <-e.stopc:
				}
				return nil
			})
			return nil
		}
	}
	return setProp(target, msg.Prop, v)
}

// evalMethodCall resolves and invokes a named method. Resolution order: a
// declared function descriptor or a matching member on the target; then the
// event pair rewrite, mapping add_<e>/remove_<e> to AddEventListener and
// RemoveEventListener with the event name and the decoded listener.
func (e *Endpoint) evalMethodCall(out *Channel, msg *Message) (any, error) {
	target, odesc, rerr := e.callTargetFor(msg.ObjID)
	if rerr != nil {
		return nil, rerr
	}
	prop := msg.Prop

	if !odesc.DeclaresFunc(prop) && !hasMember(target, prop) {
		if ev, add := odesc.EventName(prop); ev != nil {
			return nil, e.evalEventCall(out, target, ev, add, msg.Args)
		}
		return nil, &ResolutionError{Kind: "member", ID: prop}
	}

	fn, ok := member(target, prop)
	if !ok {
		return nil, &ResolutionError{Kind: "member", ID: prop}
	}
	args, err := e.decodeArgs(out, msg.Args, odesc.Func(prop))
	if err != nil {
		return nil, err
	}
	return callTarget(fn, args)
}

// evalEventCall rewrites an add_<e>/remove_<e> invocation to the target's
// listener registration methods.
func (e *Endpoint) evalEventCall(out *Channel, target any, ev *descriptor.Event, add bool, args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("event call needs 1 argument, have %d", len(args))
	}
	listener, err := e.decodeValue(out, args[0], ev.Listener)
	if err != nil {
		return err
	}
	name := "removeEventListener"
	if add {
		name = "addEventListener"
	}
	fn, ok := member(target, name)
	if !ok {
		return &ResolutionError{Kind: "member", ID: name}
	}
	_, err = callTarget(fn, []any{ev.Name, listener})
	return err
}

// callTargetFor resolves the object id of a method, getter, or setter call to
// its live target and descriptor. A class id resolves to the class's static
// face.
func (e *Endpoint) callTargetFor(objID string) (any, *descriptor.Object, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if ent, ok := e.hostObjects[objID]; ok {
		return ent.target, ent.obj, nil
	}
	if cls, ok := e.hostClasses[objID]; ok {
		var static *descriptor.Object
		if cls.Desc != nil {
			static = cls.Desc.Static
		}
		return cls.Static, static, nil
	}
	return nil, nil, &ResolutionError{Kind: "object", ID: objID}
}
