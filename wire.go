// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"fmt"

	"github.com/creachadair/srpc/descriptor"
)

// Marker is the value every srpc wire message carries in its rpc_marker
// field. Inbound messages without the marker are discarded, screening the
// endpoint from stray traffic sharing the same transport.
const Marker = "srpc"

// Actions understood by an endpoint. The call family actions carry a call
// type; the remaining actions are control messages.
const (
	ActionGetDescriptors = "get_descriptors" // request the peer's descriptor tables
	ActionDescriptors    = "descriptors"     // descriptor table reply or push
	ActionFnCall         = "fn_call"         // invoke a registered host function
	ActionCtorCall       = "ctor_call"       // construct an instance of a host class
	ActionMethodCall     = "method_call"     // invoke a method of a host object
	ActionPropGet        = "prop_get"        // read a proxied property
	ActionPropSet        = "prop_set"        // write a proxied property
	ActionReply          = "fn_reply"        // result envelope for a call
	ActionObjDied        = "obj_died"        // proxy finalization notice
)

// Call types for the call family and fn_reply.
const (
	CallVoid  = "void"
	CallSync  = "sync"
	CallAsync = "async"
)

// ClassIDPromise is the reserved class identifier under which deferred values
// travel on the wire.
const ClassIDPromise = "Promise"

// A Message is one unit of traffic between two endpoints. All fields other
// than Marker and Action are populated per action: call-family actions use
// CallType, ObjID, Prop, Args, and (for async calls) CallID; fn_reply uses
// CallType, Success, Result, and CallID; obj_died uses ObjID;
// get_descriptors uses CallType; descriptors uses the descriptor tables.
type Message struct {
	Marker   string `json:"rpc_marker" cbor:"rpc_marker"`
	Action   string `json:"action" cbor:"action"`
	CallType string `json:"callType,omitempty" cbor:"callType,omitempty"`
	ObjID    string `json:"objId,omitempty" cbor:"objId,omitempty"`
	Prop     string `json:"prop,omitempty" cbor:"prop,omitempty"`
	CallID   string `json:"callId,omitempty" cbor:"callId,omitempty"`
	Args     []any  `json:"args,omitempty" cbor:"args,omitempty"`
	Success  bool   `json:"success" cbor:"success"`
	Result   any    `json:"result,omitempty" cbor:"result,omitempty"`

	// Descriptor tables, present on the descriptors action.
	Objects   map[string]*descriptor.Object `json:"objects,omitempty" cbor:"objects,omitempty"`
	Functions map[string]*descriptor.Func   `json:"functions,omitempty" cbor:"functions,omitempty"`
	Classes   map[string]*descriptor.Class  `json:"classes,omitempty" cbor:"classes,omitempty"`
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	switch m.Action {
	case ActionReply:
		return fmt.Sprintf("Message(%s, %s, id=%q, success=%v)", m.Action, m.CallType, m.CallID, m.Success)
	case ActionObjDied:
		return fmt.Sprintf("Message(%s, obj=%q)", m.Action, m.ObjID)
	case ActionGetDescriptors, ActionDescriptors:
		return fmt.Sprintf("Message(%s)", m.Action)
	}
	return fmt.Sprintf("Message(%s, %s, obj=%q, prop=%q, args=%d)",
		m.Action, m.CallType, m.ObjID, m.Prop, len(m.Args))
}

// newMessage returns a message stamped with the wire marker.
func newMessage(action string) *Message { return &Message{Marker: Marker, Action: action} }

// Wire value tags. Values crossing the boundary inside Args, Result, and
// descriptor Props are either scalars, plain maps and slices walked
// recursively, or tagged maps carrying one of these type tags under tagKey.
const (
	tagKey        = "_rpc_type"
	tagObject     = "object"     // class instance or deferred: classId, objId, props
	tagFunction   = "function"   // host function reference: objId
	tagHostObject = "hostObject" // proxy returning home: objId resolves in the receiver's host registry
)

// taggedValue unpacks a wire value map carrying a type tag. It reports false
// if v is not a tagged map.
func taggedValue(v any) (tag, objID, classID string, props map[string]any, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return "", "", "", nil, false
	}
	tag, isTag := m[tagKey].(string)
	if !isTag {
		return "", "", "", nil, false
	}
	objID, _ = m["objId"].(string)
	classID, _ = m["classId"].(string)
	props, _ = m["props"].(map[string]any)
	return tag, objID, classID, props, true
}

func tagFunctionValue(objID string) map[string]any {
	return map[string]any{tagKey: tagFunction, "objId": objID}
}

func tagHostObjectValue(objID string) map[string]any {
	return map[string]any{tagKey: tagHostObject, "objId": objID}
}

func tagObjectValue(classID, objID string, props map[string]any) map[string]any {
	m := map[string]any{tagKey: tagObject, "classId": classID, "objId": objID}
	if props != nil {
		m["props"] = props
	}
	return m
}
