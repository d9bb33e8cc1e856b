// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package srpc

import "expvar"

// metrics record endpoint activity counters.
type metrics struct {
	msgSent     expvar.Int
	msgRecv     expvar.Int
	msgDropped  expvar.Int // messages discarded: missing marker, endpoint stopped, or unknown action
	callIn      expvar.Int // number of inbound calls received
	callInErr   expvar.Int // number of inbound calls reporting an error
	callOut     expvar.Int // number of outbound calls initiated
	callOutErr  expvar.Int // number of outbound calls reporting an error
	callPending expvar.Int // outbound deferred calls awaiting replies
	objDied     expvar.Int // finalization notices sent

	emap *expvar.Map
}

var endpointMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("messages_sent", &m.msgSent)
	m.emap.Set("messages_received", &m.msgRecv)
	m.emap.Set("messages_dropped", &m.msgDropped)
	m.emap.Set("calls_in", &m.callIn)
	m.emap.Set("calls_in_failed", &m.callInErr)
	m.emap.Set("calls_out", &m.callOut)
	m.emap.Set("calls_out_failed", &m.callOutErr)
	m.emap.Set("calls_pending", &m.callPending)
	m.emap.Set("notices_sent", &m.objDied)
	return m
}
