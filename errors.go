// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"errors"
	"fmt"
)

// ErrDisposed is reported when a disposed proxy is invoked. Void and sync
// calls return it directly; async calls reject their promise with it.
var ErrDisposed = errors.New("proxy is disposed")

// A ResolutionError is reported when a call cannot be routed to a target:
// an unknown object, function, or class ID, a missing descriptor, a property
// that is not a function, or a class with no exposed constructor.
type ResolutionError struct {
	Kind string // "object", "function", "class", "member", "ctor"
	ID   string // the offending identifier or member name
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolved %s %q", e.Kind, e.ID)
}

// A ProtocolError is reported when the transport misbehaves: a synchronous
// send yields no reply, or a reply lacks the wire marker.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// A RemoteError is the local rendering of a failure captured on the host side
// of a call. Errors crossing the wire are reduced to their string form; only
// the message survives.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// remoteError converts the result field of a failed reply into an error.
func remoteError(result any) error {
	return &RemoteError{Message: fmt.Sprint(result)}
}
