// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wref implements a weak-valued registry keyed by string IDs.
//
// The registry holds each value through a weak pointer and installs a runtime
// cleanup that runs when the value becomes unreachable. Explicit disposal via
// the returned Handle and garbage-collection driven cleanup are idempotent
// and externally indistinguishable: whichever happens first removes the entry
// and runs the dispose hook exactly once.
package wref

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// A Registry maps string IDs to weakly held values of type T.
// A zero Registry is ready for use. All methods are safe for concurrent use.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	ref weak.Pointer[T]
	h   *Handle
}

// A Handle controls the registration of a single value. The handle does not
// keep the value alive.
type Handle struct {
	disposed  atomic.Bool
	remove    func()
	stop      func()
	onDispose func()
}

// Dispose removes the registration, stops the runtime cleanup, and runs the
// dispose hook. It is safe to call multiple times and concurrently with the
// garbage collector's cleanup; only the first caller has any effect.
func (h *Handle) Dispose() { h.dispose() }

// Disposed reports whether the registration has been disposed, either
// explicitly or by the garbage collector.
func (h *Handle) Disposed() bool { return h.disposed.Load() }

func (h *Handle) dispose() {
	if h.disposed.Swap(true) {
		return
	}
	h.remove()
	if h.stop != nil {
		h.stop()
	}
	if h.onDispose != nil {
		h.onDispose()
	}
}

// Register installs ptr under id, replacing any existing registration for the
// same id. When ptr becomes unreachable, or when Dispose is called on the
// returned handle, the entry is removed and onDispose (if not nil) runs once.
//
// The onDispose callback must not retain ptr, or the value can never be
// reclaimed.
func (r *Registry[T]) Register(id string, ptr *T, onDispose func()) *Handle {
	h := &Handle{onDispose: onDispose}
	h.remove = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Only remove the entry if it is still ours; a replacement
		// registration under the same id must not be clobbered by a stale
		// cleanup.
		if e, ok := r.entries[id]; ok && e.h == h {
			delete(r.entries, id)
		}
	}

	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]*entry[T])
	}
	r.entries[id] = &entry[T]{ref: weak.Make(ptr), h: h}
	r.mu.Unlock()

	c := runtime.AddCleanup(ptr, func(h *Handle) { h.dispose() }, h)
	h.stop = c.Stop
	return h
}

// Get returns the live value registered under id. It returns nil, false if no
// registration exists or the value has already been reclaimed.
func (r *Registry[T]) Get(id string) (*T, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	if p := e.ref.Value(); p != nil {
		return p, true
	}
	return nil, false
}

// Has reports whether a live value is registered under id.
func (r *Registry[T]) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Delete removes the registration for id without running its dispose hook.
// The associated handle remains valid but its Dispose becomes a no-op for the
// registry (the hook still runs if Dispose is called explicitly).
func (r *Registry[T]) Delete(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok && e.h.stop != nil {
		e.h.stop()
	}
}

// Len reports the number of registrations, including entries whose values
// have been reclaimed but not yet cleaned up.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
