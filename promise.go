// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import (
	"context"
	"sync"
)

// A Promise is a deferred value that is resolved or rejected exactly once.
//
// Promises are the srpc rendering of asynchronous results: async proxy calls
// return one, and promise values crossing the boundary are reconstructed as
// one on the receiving side, settled when the origin's settlement notice
// arrives.
type Promise struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     any
	err     error
}

// NewPromise returns a new unsettled promise.
func NewPromise() *Promise { return &Promise{done: make(chan struct{})} }

// Resolved returns a promise already resolved with v.
func Resolved(v any) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve settles p with the value v. It reports whether p was settled by
// this call; a promise that is already settled is unchanged.
func (p *Promise) Resolve(v any) bool { return p.settle(v, nil) }

// Reject settles p with the error err. It reports whether p was settled by
// this call; a promise that is already settled is unchanged.
func (p *Promise) Reject(err error) bool { return p.settle(nil, err) }

func (p *Promise) settle(v any, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	p.val, p.err = v, err
	close(p.done)
	return true
}

// Done returns a channel that is closed when p settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Result returns the settlement of p. It must only be called after Done is
// closed; calling it earlier returns zero values.
func (p *Promise) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val, p.err
}

// Await blocks until p settles or ctx ends, and returns the settlement.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
