// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"expvar"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/creachadair/srpc/descriptor"
	"github.com/creachadair/srpc/wref"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// A Channel connects an endpoint to its peer. A channel may provide any
// subset of the transports; the call engine degrades call modes to fit what
// is available. At least one send variant is needed to originate calls, and
// Receive is needed to accept them.
type Channel struct {
	// SendSync emits msg and blocks until the peer's reply arrives.
	SendSync func(msg *Message) (*Message, error)

	// SendAsync emits msg without waiting.
	SendAsync func(msg *Message) error

	// Receive installs the handler invoked for each inbound message.
	Receive func(Handler)

	// Close releases the channel's resources, if any.
	Close func() error
}

// A Handler processes one inbound message. The reply channel, when not nil,
// carries per-message transport callbacks addressing the connection the
// message arrived on; context is the raw transport event, exposed to host
// code through Endpoint.CurrentContext. The returned message, if not nil, is
// delivered as the synchronous reply.
type Handler func(msg *Message, reply *Channel, context any) *Message

// A MessageLogger logs a message exchanged with the remote endpoint.
type MessageLogger func(msg MessageInfo)

// A MessageInfo combines a message and a flag indicating whether the message
// was sent or received.
type MessageInfo struct {
	*Message      // the message being logged
	Sent     bool // whether the message was sent (true) or received (false)
}

func (m MessageInfo) String() string {
	dir := "recv"
	if m.Sent {
		dir = "send"
	}
	return fmt.Sprintf("%s %v", dir, m.Message)
}

// An Endpoint is one side of an srpc session. It owns the channel binding,
// the registries of host entities and proxies, the descriptor caches received
// from the peer, and the correlation state for deferred calls.
//
// Construct an endpoint with NewEndpoint, register host entities, and Bind a
// channel to begin exchanging messages. Registration and lookup methods are
// safe for concurrent use.
type Endpoint struct {
	μ sync.Mutex

	ch    *Channel
	newID func() string
	mlog  MessageLogger

	nextCall uint64
	acalls   map[string]pendingCall // call/promise id → pending settlement

	hostObjects map[string]*hostEntry
	hostFuncs   map[string]*hostEntry
	hostClasses map[string]*HostClass
	stamps      map[uintptr]string // target identity → registered id

	pobjs    wref.Registry[ProxyObject]
	pfuncs   wref.Registry[ProxyFunc]
	pclasses map[string]*ProxyClass

	remote struct {
		objects   map[string]*descriptor.Object
		functions map[string]*descriptor.Func
		classes   map[string]*descriptor.Class
		byClassID map[string]*descriptor.Class
	}
	exch *Promise // pending asynchronous descriptor pull

	cur struct {
		out     *Channel
		context any
	}

	tasks   *taskgroup.Group
	stopc   chan struct{}
	stopped bool
}

// A pendingCall pairs a settlement promise with whether it was counted as an
// outbound deferred call (promise stand-ins created by the codec are not).
type pendingCall struct {
	pr      *Promise
	counted bool
}

// A hostEntry records one registered host entity and its live target.
type hostEntry struct {
	id     string
	target any
	obj    *descriptor.Object // host objects
	fn     *descriptor.Func   // host functions
	stamp  uintptr            // reverse-identity key, 0 if none
	auto   bool               // registered by the codec, not the user
}

// A HostClass describes a class registered for remote construction and use.
type HostClass struct {
	// Desc declares the exposed surface. Its ClassID identifies instances on
	// the wire; if empty, the registration id is used.
	Desc *descriptor.Class

	// Ctor constructs an instance; nil when the class exposes no constructor.
	Ctor any

	// Static is the target for static method and property access.
	Static any

	// Type identifies instances: values assignable to it are encoded as
	// instances of this class.
	Type reflect.Type
}

// NewEndpoint constructs a new unbound endpoint with a UUID identifier
// generator.
func NewEndpoint() *Endpoint {
	e := &Endpoint{
		newID:       uuid.NewString,
		acalls:      make(map[string]pendingCall),
		hostObjects: make(map[string]*hostEntry),
		hostFuncs:   make(map[string]*hostEntry),
		hostClasses: make(map[string]*HostClass),
		stamps:      make(map[uintptr]string),
		pclasses:    make(map[string]*ProxyClass),
		tasks:       taskgroup.New(nil),
		stopc:       make(chan struct{}),
	}
	return e
}

// NewID replaces the identifier generator used for auto-registered entities.
// It returns e to permit chaining.
func (e *Endpoint) NewID(gen func() string) *Endpoint {
	e.μ.Lock()
	defer e.μ.Unlock()
	if gen == nil {
		e.newID = uuid.NewString
	} else {
		e.newID = gen
	}
	return e
}

// LogMessages registers a callback invoked for each message exchanged with
// the peer. Inbound messages lacking the wire marker, or arriving after Stop,
// are discarded without being logged. Passing nil disables logging. It
// returns e to permit chaining.
func (e *Endpoint) LogMessages(log MessageLogger) *Endpoint {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.mlog = log
	return e
}

// Metrics returns a metrics map for the endpoint. It is safe for the caller
// to add additional metrics to the map while the endpoint is active.
func (e *Endpoint) Metrics() *expvar.Map { return endpointMetrics.emap }

// Bind attaches e to ch and, when the channel can receive, installs the
// message handler. It returns e to permit chaining.
func (e *Endpoint) Bind(ch *Channel) *Endpoint {
	e.μ.Lock()
	e.ch = ch
	e.μ.Unlock()
	if ch != nil && ch.Receive != nil {
		ch.Receive(e.handleMessage)
	}
	return e
}

// Stop tears down the endpoint: pending deferred calls are rejected, settling
// tasks are released, and the bound channel is closed. The endpoint must not
// be reused after Stop.
func (e *Endpoint) Stop() error {
	e.μ.Lock()
	if e.stopped {
		e.μ.Unlock()
		return nil
	}
	e.stopped = true
	close(e.stopc)
	calls := e.acalls
	e.acalls = make(map[string]pendingCall)
	ch := e.ch
	e.μ.Unlock()

	// Close the channel first so no further messages arrive, then release
	// the pending state and wait for settling tasks to drain.
	var cerr error
	if ch != nil && ch.Close != nil {
		cerr = ch.Close()
	}
	for _, pc := range calls {
		if pc.counted {
			endpointMetrics.callPending.Add(-1)
		}
		pc.pr.Reject(&ProtocolError{Reason: "endpoint stopped"})
	}
	e.tasks.Wait()
	return cerr
}

// channel returns the default bound channel, or an empty channel when none is
// bound so transport probes see no capabilities.
func (e *Endpoint) channel() *Channel {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.ch == nil {
		return &Channel{}
	}
	return e.ch
}

// outChannel returns the channel outgoing messages should use: the reply
// channel of the message currently being handled, or the default binding.
func (e *Endpoint) outChannel() *Channel {
	e.μ.Lock()
	out := e.cur.out
	e.μ.Unlock()
	if out != nil {
		return out
	}
	return e.channel()
}

// CurrentContext returns the raw transport event of the message currently
// being handled, or nil. Host functions may consult it during execution.
func (e *Endpoint) CurrentContext() any {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.cur.context
}

// setCurrent installs the per-message routing slots and returns a function
// restoring the previous values.
func (e *Endpoint) setCurrent(out *Channel, context any) func() {
	e.μ.Lock()
	prevOut, prevCtx := e.cur.out, e.cur.context
	e.cur.out, e.cur.context = out, context
	e.μ.Unlock()
	return func() {
		e.μ.Lock()
		e.cur.out, e.cur.context = prevOut, prevCtx
		e.μ.Unlock()
	}
}

// logMessage reports a message to the logging hook, if one is installed.
func (e *Endpoint) logMessage(msg *Message, sent bool) {
	e.μ.Lock()
	log := e.mlog
	e.μ.Unlock()
	if log != nil {
		log(MessageInfo{Message: msg, Sent: sent})
	}
}

// send emits msg on out, preferring the asynchronous transport and falling
// back to the synchronous one (discarding its reply).
func (e *Endpoint) send(out *Channel, msg *Message) error {
	e.logMessage(msg, true)
	endpointMetrics.msgSent.Add(1)
	if out.SendAsync != nil {
		return out.SendAsync(msg)
	}
	if out.SendSync != nil {
		_, err := out.SendSync(msg)
		return err
	}
	return &ProtocolError{Reason: "channel has no send transport"}
}

// sendDied notifies the peer that the proxy for objID was finalized. The
// notice travels on the default channel's async transport when available,
// falling back to sync; failures are ignored, the peer entry simply
// lingers.
func (e *Endpoint) sendDied(objID string) {
	e.μ.Lock()
	stopped := e.stopped
	e.μ.Unlock()
	if stopped {
		return
	}
	msg := newMessage(ActionObjDied)
	msg.ObjID = objID
	endpointMetrics.objDied.Add(1)
	e.send(e.channel(), msg)
}

// registerCall allocates a correlation id and the promise its reply settles.
func (e *Endpoint) registerCall() (string, *Promise) {
	pr := NewPromise()
	e.μ.Lock()
	e.nextCall++
	id := strconv.FormatUint(e.nextCall, 10)
	e.acalls[id] = pendingCall{pr: pr, counted: true}
	e.μ.Unlock()
	endpointMetrics.callPending.Add(1)
	return id, pr
}

// releaseCall abandons a correlation id after a failed send.
func (e *Endpoint) releaseCall(id string) {
	e.μ.Lock()
	pc, ok := e.acalls[id]
	delete(e.acalls, id)
	e.μ.Unlock()
	if ok && pc.counted {
		endpointMetrics.callPending.Add(-1)
	}
}

// RegisterObject exposes target to the peer under id with the given
// descriptor. It panics if id is already registered. It returns e to permit
// chaining.
func (e *Endpoint) RegisterObject(id string, target any, desc *descriptor.Object) *Endpoint {
	if desc == nil {
		desc = &descriptor.Object{}
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	e.checkUnusedLocked(id)
	ent := &hostEntry{id: id, target: target, obj: desc}
	if stamp := stampOf(target); stamp != 0 {
		ent.stamp = stamp
		e.stamps[stamp] = id
	}
	e.hostObjects[id] = ent
	return e
}

// RegisterFunc exposes fn to the peer under id with the given descriptor.
// It panics if id is already registered or fn is not a function. It returns
// e to permit chaining.
func (e *Endpoint) RegisterFunc(id string, fn any, desc *descriptor.Func) *Endpoint {
	fv := stampOf(fn)
	if reflect.ValueOf(fn).Kind() != reflect.Func || fv == 0 {
		panic(fmt.Sprintf("register %q: target is not a function", id))
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	e.checkUnusedLocked(id)
	e.hostFuncs[id] = &hostEntry{id: id, target: fn, fn: desc, stamp: fv}
	e.stamps[fv] = id
	return e
}

// RegisterClass exposes cls to the peer under id. It panics if id is already
// registered or cls has no descriptor. It returns e to permit chaining.
func (e *Endpoint) RegisterClass(id string, cls *HostClass) *Endpoint {
	if cls == nil || cls.Desc == nil {
		panic(fmt.Sprintf("register %q: class has no descriptor", id))
	}
	if cls.Desc.ClassID == "" {
		cls.Desc.ClassID = id
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	e.checkUnusedLocked(id)
	e.hostClasses[id] = cls
	return e
}

func (e *Endpoint) checkUnusedLocked(id string) {
	_, inObjs := e.hostObjects[id]
	_, inFuncs := e.hostFuncs[id]
	_, inClasses := e.hostClasses[id]
	if inObjs || inFuncs || inClasses {
		panic(fmt.Sprintf("id %q is already registered", id))
	}
}

// Unregister removes the host entry for id, if one exists. The peer's
// proxies for the entry, if any, fail on their next use.
func (e *Endpoint) Unregister(id string) { e.dropHost(id) }

// dropHost removes all host registrations for id, including the reverse
// identity stamp of the released target.
func (e *Endpoint) dropHost(id string) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if ent, ok := e.hostObjects[id]; ok {
		delete(e.hostObjects, id)
		if ent.stamp != 0 {
			delete(e.stamps, ent.stamp)
		}
	}
	if ent, ok := e.hostFuncs[id]; ok {
		delete(e.hostFuncs, id)
		if ent.stamp != 0 {
			delete(e.stamps, ent.stamp)
		}
	}
	delete(e.hostClasses, id)
}

// PushDescriptors sends the endpoint's descriptor tables to the peer without
// being asked.
func (e *Endpoint) PushDescriptors() error {
	out := e.channel()
	return e.send(out, e.buildDescriptors(out))
}

// ExchangeDescriptors pulls the peer's descriptor tables. When the channel
// has a synchronous transport the pull completes before returning and the
// result is already settled; otherwise the returned promise resolves when
// the peer's reply arrives. Concurrent asynchronous pulls share one pending
// exchange.
func (e *Endpoint) ExchangeDescriptors() (*Promise, error) {
	out := e.channel()
	msg := newMessage(ActionGetDescriptors)

	if out.SendSync != nil {
		msg.CallType = CallSync
		e.logMessage(msg, true)
		endpointMetrics.msgSent.Add(1)
		reply, err := out.SendSync(msg)
		if err != nil {
			return nil, err
		}
		if reply == nil {
			return nil, &ProtocolError{Reason: "no synchronous reply"}
		}
		if reply.Marker != Marker {
			return nil, &ProtocolError{Reason: "reply lacks wire marker"}
		}
		e.ingestDescriptors(reply)
		return Resolved(true), nil
	}

	msg.CallType = CallAsync
	e.μ.Lock()
	if e.exch == nil {
		e.exch = NewPromise()
	}
	pr := e.exch
	e.μ.Unlock()
	if err := e.send(out, msg); err != nil {
		return nil, err
	}
	return pr, nil
}

// buildDescriptors assembles the descriptors message for the peer. Object
// descriptors are cloned and walked just before shipping to capture the
// readonly property snapshots of their live targets; entities registered by
// the codec are not included.
func (e *Endpoint) buildDescriptors(out *Channel) *Message {
	type objSnap struct {
		id     string
		target any
		desc   *descriptor.Object
	}
	var objs []objSnap

	msg := newMessage(ActionDescriptors)
	msg.Objects = make(map[string]*descriptor.Object)
	msg.Functions = make(map[string]*descriptor.Func)
	msg.Classes = make(map[string]*descriptor.Class)

	e.μ.Lock()
	for id, ent := range e.hostObjects {
		if ent.auto {
			continue
		}
		objs = append(objs, objSnap{id: id, target: ent.target, desc: ent.obj})
	}
	for id, ent := range e.hostFuncs {
		if ent.auto {
			continue
		}
		fd := ent.fn
		if fd == nil {
			fd = &descriptor.Func{Name: id}
		}
		msg.Functions[id] = fd
	}
	for id, cls := range e.hostClasses {
		msg.Classes[id] = cls.Desc
	}
	e.μ.Unlock()

	for _, o := range objs {
		d := o.desc.Clone()
		for _, name := range d.ReadonlyProperties {
			pv, err := getProp(o.target, name)
			if err != nil {
				continue
			}
			enc, err := e.encodeValue(out, pv, nil)
			if err != nil {
				continue
			}
			if d.Props == nil {
				d.Props = make(map[string]any)
			}
			d.Props[name] = enc
		}
		msg.Objects[o.id] = d
	}
	return msg
}

// ingestDescriptors installs the peer's descriptor tables in the remote
// caches and completes any pending asynchronous pull.
func (e *Endpoint) ingestDescriptors(msg *Message) {
	e.μ.Lock()
	e.remote.objects = msg.Objects
	e.remote.functions = msg.Functions
	e.remote.classes = msg.Classes
	e.remote.byClassID = make(map[string]*descriptor.Class, len(msg.Classes))
	for _, c := range msg.Classes {
		if c != nil && c.ClassID != "" {
			e.remote.byClassID[c.ClassID] = c
		}
	}
	pr := e.exch
	e.exch = nil
	e.μ.Unlock()
	if pr != nil {
		pr.Resolve(true)
	}
}

// ProxyObject returns the proxy for the peer's host object registered under
// id. Successive lookups return the same proxy until it is finalized.
func (e *Endpoint) ProxyObject(id string) (*ProxyObject, error) {
	e.μ.Lock()
	if po, ok := e.pobjs.Get(id); ok {
		e.μ.Unlock()
		return po, nil
	}
	odesc, ok := e.remote.objects[id]
	e.μ.Unlock()
	if !ok {
		return nil, &ResolutionError{Kind: "object", ID: id}
	}

	out := e.outChannel()
	props := make(map[string]any, len(odesc.Props))
	for k, pv := range odesc.Props {
		w, err := e.decodeValue(out, pv, nil)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = w
	}

	e.μ.Lock()
	defer e.μ.Unlock()
	if po, ok := e.pobjs.Get(id); ok {
		return po, nil
	}
	po := &ProxyObject{ep: e, id: id, desc: odesc, props: props}
	po.handle = e.pobjs.Register(id, po, e.diedNotifier(id))
	return po, nil
}

// ProxyFunc returns the proxy for the peer's host function registered under
// id. Successive lookups return the same proxy until it is finalized.
func (e *Endpoint) ProxyFunc(id string) (*ProxyFunc, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if pf, ok := e.pfuncs.Get(id); ok {
		return pf, nil
	}
	if _, ok := e.remote.functions[id]; !ok {
		return nil, &ResolutionError{Kind: "function", ID: id}
	}
	return e.proxyFuncLocked(id, nil), nil
}

// ProxyClass returns the proxy for the peer's host class registered under
// id. Class proxies are cached strongly; repeated lookups return the same
// value.
func (e *Endpoint) ProxyClass(id string) (*ProxyClass, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if pc, ok := e.pclasses[id]; ok {
		return pc, nil
	}
	cdesc, ok := e.remote.classes[id]
	if !ok {
		return nil, &ResolutionError{Kind: "class", ID: id}
	}
	pc := &ProxyClass{ep: e, id: id, desc: cdesc}
	e.pclasses[id] = pc
	return pc, nil
}

// stampOf returns the reverse-identity key for a target, or 0 when the
// target's type has no stable identity (plain scalars and structs).
func stampOf(v any) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Map, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return rv.Pointer()
	}
	return 0
}
