// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package srpc implements a symmetric, bidirectional object-graph RPC core.
//
// Two endpoints connected by a message channel expose live objects,
// functions, and classes to each other. An endpoint that registers a host
// entity under an identifier lets its peer obtain a proxy whose calls,
// property accesses, and constructor invocations are transparently
// marshalled across the channel.
//
// # Endpoints
//
// The core type defined by this package is the [Endpoint]. Construct one,
// register host entities, and bind a channel connected to the peer:
//
//	e := srpc.NewEndpoint().
//	   RegisterFunc("add", func(a, b int) int { return a + b },
//	      &descriptor.Func{Name: "add", Returns: descriptor.ReturnSync}).
//	   Bind(ch)
//
// Both sides of a session are equal: either endpoint may host entities,
// obtain proxies, and originate calls.
//
// # Channels
//
// A [Channel] is a record of up to three transport functions: SendSync,
// SendAsync, and Receive. A channel need not provide all of them; call modes
// degrade to fit the transports available. The channel package provides
// in-memory pairs and an IO channel over a reader/writer transporting
// CBOR-encoded messages.
//
// # Descriptors and proxies
//
// What an entity exposes is declared by a descriptor (see the descriptor
// package). Descriptor tables are exchanged with [Endpoint.PushDescriptors]
// or pulled with [Endpoint.ExchangeDescriptors]; afterwards the peer
// materializes proxies with [Endpoint.ProxyObject], [Endpoint.ProxyFunc],
// and [Endpoint.ProxyClass]:
//
//	add, err := e.ProxyFunc("add")
//	...
//	v, err := add.Invoke(2, 3)  // v == 5
//
// Values crossing the boundary are folded recursively: plain maps and slices
// are walked, functions and promises are registered and travel by reference,
// instances of registered classes travel with a snapshot of their readonly
// properties, and proxies sent back to their origin resolve to the original
// host target.
//
// # Call modes
//
// Each callable declares one of three completion modes: void (no reply),
// sync (the caller blocks for the reply), or async (the reply settles a
// [Promise]). An async call on a channel without an asynchronous transport
// degrades to sync; a sync call without a synchronous transport upgrades to
// async; void is never re-mapped.
//
// # Lifecycle
//
// Proxies are held weakly. When a proxy is garbage collected, or disposed
// explicitly, the origin endpoint receives an obj_died notice and drops the
// corresponding host entry. A disposed proxy fails all further use with
// [ErrDisposed].
//
// # Metrics
//
// Endpoints maintain a collection of expvar metrics while running; use the
// [Endpoint.Metrics] method to obtain the map. Metrics are shared globally
// among all endpoints.
package srpc
