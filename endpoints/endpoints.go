// Package endpoints provides support code for managing and testing paired
// srpc endpoints.
package endpoints

import (
	"github.com/creachadair/srpc"
	"github.com/creachadair/srpc/channel"
)

// Local is a pair of in-memory connected endpoints, suitable for testing.
type Local struct {
	A *srpc.Endpoint
	B *srpc.Endpoint
}

// NewLocal creates a pair of in-memory connected endpoints that communicate
// via a direct channel without encoding.
func NewLocal() *Local {
	a2b, b2a := channel.Direct()
	return &Local{
		A: srpc.NewEndpoint().Bind(a2b),
		B: srpc.NewEndpoint().Bind(b2a),
	}
}

// NewLocalOn creates a pair of endpoints bound to the given channel pair.
// Use it with capability-restricted channels to exercise call-mode
// degradation, e.g. channel.AsyncOnly.
func NewLocalOn(a2b, b2a *srpc.Channel) *Local {
	return &Local{
		A: srpc.NewEndpoint().Bind(a2b),
		B: srpc.NewEndpoint().Bind(b2a),
	}
}

// Exchange makes both endpoints pull each other's descriptor tables,
// blocking until both pulls complete.
func (p *Local) Exchange() error {
	for _, e := range []*srpc.Endpoint{p.A, p.B} {
		pr, err := e.ExchangeDescriptors()
		if err != nil {
			return err
		}
		<-pr.Done()
		if _, err := pr.Result(); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down both endpoints and reports the first error.
func (p *Local) Stop() error {
	aerr := p.A.Stop()
	berr := p.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}
