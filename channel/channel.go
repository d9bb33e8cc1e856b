// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the srpc.Channel record.
package channel

import (
	"bufio"
	"io"
	"net"
	"reflect"
	"sync"

	"github.com/creachadair/srpc"
	"github.com/fxamacker/cbor/v2"
)

// Direct constructs a connected pair of in-memory channels that pass
// messages directly without encoding. Messages sent to A are handled by the
// receiver installed on B and vice versa. Both channels carry the full
// transport set: synchronous sends deliver on the caller's goroutine and
// return the handler's reply; asynchronous sends are queued and delivered in
// order by a pump goroutine.
func Direct() (A, B *srpc.Channel) {
	done := make(chan struct{})
	var once sync.Once
	closeAll := func() error {
		once.Do(func() { close(done) })
		return nil
	}

	a, b := newSide(done), newSide(done)
	A = &srpc.Channel{
		SendSync:  func(m *srpc.Message) (*srpc.Message, error) { return b.dispatch(m) },
		SendAsync: b.enqueue,
		Receive:   a.install,
		Close:     closeAll,
	}
	B = &srpc.Channel{
		SendSync:  func(m *srpc.Message) (*srpc.Message, error) { return a.dispatch(m) },
		SendAsync: a.enqueue,
		Receive:   b.install,
		Close:     closeAll,
	}
	a.self, b.self = A, B
	go a.pump()
	go b.pump()
	return
}

// A side is one receiver of a direct pair.
type side struct {
	mu      sync.Mutex
	handler srpc.Handler
	self    *srpc.Channel // the record bound by this side's endpoint
	queue   chan *srpc.Message
	done    chan struct{}
}

func newSide(done chan struct{}) *side {
	return &side{queue: make(chan *srpc.Message, 128), done: done}
}

func (s *side) install(h srpc.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *side) dispatch(m *srpc.Message) (*srpc.Message, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, net.ErrClosed
	}
	select {
	case <-s.done:
		return nil, net.ErrClosed
	default:
	}
	return h(m, s.self, nil), nil
}

func (s *side) enqueue(m *srpc.Message) error {
	select {
	case <-s.done:
		return net.ErrClosed
	default:
	}
	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return net.ErrClosed
	}
}

func (s *side) pump() {
	for {
		select {
		case m := <-s.queue:
			s.dispatch(m)
		case <-s.done:
			return
		}
	}
}

// cbor codec configuration for IO channels: inner wire values decode to
// map[string]any trees, matching what the srpc codec produces.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// IO constructs a channel that receives from r and sends to wc, transporting
// messages in CBOR encoding. The channel carries only the asynchronous
// transport and a receiver; synchronous calls over an IO channel upgrade to
// async under the standard degradation rules.
func IO(r io.Reader, wc io.WriteCloser) *srpc.Channel {
	// N.B. The bufio package will reuse existing buffers if possible.
	bw := bufio.NewWriter(wc)
	ch := &ioChannel{
		enc: encMode.NewEncoder(bw),
		w:   bw,
		dec: decMode.NewDecoder(bufio.NewReader(r)),
		c:   wc,
	}
	return &srpc.Channel{
		SendAsync: ch.send,
		Receive:   ch.receive,
		Close:     ch.close,
	}
}

type ioChannel struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	w   *bufio.Writer
	dec *cbor.Decoder
	c   io.Closer
}

func (c *ioChannel) send(m *srpc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(m); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *ioChannel) receive(h srpc.Handler) {
	go func() {
		for {
			var msg srpc.Message
			if err := c.dec.Decode(&msg); err != nil {
				return
			}
			h(&msg, nil, nil)
		}
	}()
}

func (c *ioChannel) close() error { return c.c.Close() }

// SyncOnly returns a copy of ch without its asynchronous transport, so async
// calls sent on it degrade to sync.
func SyncOnly(ch *srpc.Channel) *srpc.Channel {
	return &srpc.Channel{SendSync: ch.SendSync, Receive: ch.Receive, Close: ch.Close}
}

// AsyncOnly returns a copy of ch without its synchronous transport, so sync
// calls sent on it upgrade to async.
func AsyncOnly(ch *srpc.Channel) *srpc.Channel {
	return &srpc.Channel{SendAsync: ch.SendAsync, Receive: ch.Receive, Close: ch.Close}
}
