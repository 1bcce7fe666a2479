package loadbalance

import "sync/atomic"

// RoundRobin cycles through the endpoints in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobin struct {
	counter atomic.Uint64 // incremented on each Pick()
}

func (b *RoundRobin) Pick(endpoints []Endpoint) (int, error) {
	if len(endpoints) == 0 {
		return 0, ErrNoEndpoint
	}
	n := b.counter.Add(1) - 1
	return int(n % uint64(len(endpoints))), nil
}

func (b *RoundRobin) Name() string {
	return "round_robin"
}
