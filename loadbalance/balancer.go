// Package loadbalance picks which of several live transports to one server
// carries the next call.
//
// Two strategies are implemented:
//   - RoundRobin:   spreads calls evenly regardless of load
//   - LeastPending: sends each call to the transport with the fewest outstanding calls
package loadbalance

import "errors"

// ErrNoEndpoint is returned by Pick when there is nothing to choose from.
var ErrNoEndpoint = errors.New("loadbalance: no endpoint available")

// Endpoint is one candidate. *transport.ClientTransport satisfies it.
type Endpoint interface {
	// Pending returns the number of calls in flight on this endpoint.
	Pending() int
}

// Picker is the interface for load balancing strategies.
// The pool calls Pick() before each RPC to select a transport.
type Picker interface {
	// Pick returns the index of the chosen endpoint.
	// Called on every RPC call, must be goroutine-safe.
	Pick(endpoints []Endpoint) (int, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the picker registered under name: "round_robin" (also the
// default for "") or "least_pending".
func New(name string) (Picker, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobin{}, nil
	case "least_pending":
		return LeastPending{}, nil
	default:
		return nil, errors.New("loadbalance: unknown picker " + name)
	}
}
