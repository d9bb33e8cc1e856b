// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"net"
	"testing"
	"time"

	"github.com/creachadair/srpc"
	"github.com/creachadair/srpc/channel"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestDirect(t *testing.T) {
	defer leaktest.Check(t)()

	a2b, b2a := channel.Direct()
	defer a2b.Close()

	got := make(chan *srpc.Message, 4)
	b2a.Receive(func(msg *srpc.Message, reply *srpc.Channel, _ any) *srpc.Message {
		if msg.Action == "echo" {
			r := *msg
			r.Action = "echoed"
			return &r
		}
		got <- msg
		return nil
	})

	t.Run("Sync", func(t *testing.T) {
		reply, err := a2b.SendSync(&srpc.Message{Marker: srpc.Marker, Action: "echo", ObjID: "x"})
		if err != nil {
			t.Fatalf("SendSync: %v", err)
		}
		if reply == nil || reply.Action != "echoed" || reply.ObjID != "x" {
			t.Errorf("SendSync reply = %+v, want echoed x", reply)
		}
	})

	t.Run("AsyncOrder", func(t *testing.T) {
		for _, id := range []string{"1", "2", "3"} {
			if err := a2b.SendAsync(&srpc.Message{Marker: srpc.Marker, Action: "note", ObjID: id}); err != nil {
				t.Fatalf("SendAsync(%s): %v", id, err)
			}
		}
		for _, want := range []string{"1", "2", "3"} {
			select {
			case m := <-got:
				if m.ObjID != want {
					t.Errorf("received %q, want %q", m.ObjID, want)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for message %q", want)
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if err := a2b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		// Sends on either side of a closed pair report net.ErrClosed.
		err := a2b.SendAsync(&srpc.Message{Marker: srpc.Marker, Action: "note"})
		if err != net.ErrClosed {
			t.Errorf("SendAsync after close: got %v, want net.ErrClosed", err)
		}
		if _, err := b2a.SendSync(&srpc.Message{Marker: srpc.Marker, Action: "echo"}); err != net.ErrClosed {
			t.Errorf("SendSync after close: got %v, want net.ErrClosed", err)
		}
	})
}

func TestDirectNoHandler(t *testing.T) {
	defer leaktest.Check(t)()

	a2b, _ := channel.Direct()
	defer a2b.Close()

	// A sync send with no receiver installed reports an error rather than
	// hanging.
	if _, err := a2b.SendSync(&srpc.Message{Marker: srpc.Marker, Action: "echo"}); err == nil {
		t.Error("SendSync without a handler: should have failed")
	}
}

func TestIO(t *testing.T) {
	defer leaktest.Check(t)()

	cw, sw := net.Pipe()
	client := channel.IO(cw, cw)
	server := channel.IO(sw, sw)
	defer client.Close()
	defer server.Close()

	if client.SendSync != nil {
		t.Error("IO channel should not offer a synchronous transport")
	}

	got := make(chan *srpc.Message, 1)
	server.Receive(func(msg *srpc.Message, _ *srpc.Channel, _ any) *srpc.Message {
		got <- msg
		return nil
	})

	want := &srpc.Message{
		Marker:   srpc.Marker,
		Action:   "fn_call",
		CallType: "async",
		ObjID:    "fn-1",
		CallID:   "7",
		Args: []any{
			"hello",
			map[string]any{"_rpc_type": "function", "objId": "cb-1"},
		},
	}
	if err := client.SendAsync(want); err != nil {
		t.Fatalf("SendAsync: %v", err)
	}

	select {
	case m := <-got:
		// CBOR flattens numeric widths; none are present here, so the
		// messages should compare equal field for field.
		if diff := cmp.Diff(want, m); diff != "" {
			t.Errorf("received message (-want, +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestCapabilityWrappers(t *testing.T) {
	a2b, _ := channel.Direct()
	defer a2b.Close()

	if so := channel.SyncOnly(a2b); so.SendAsync != nil || so.SendSync == nil {
		t.Error("SyncOnly did not strip the async transport")
	}
	if ao := channel.AsyncOnly(a2b); ao.SendSync != nil || ao.SendAsync == nil {
		t.Error("AsyncOnly did not strip the sync transport")
	}
}
