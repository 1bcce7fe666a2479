package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lucid-rpc/loadbalance"
	"lucid-rpc/transport"
)

var (
	// ErrUnavailable means no transport could be obtained, so the request was
	// never sent.
	ErrUnavailable = errors.New("client: server unavailable")

	// ErrPoolClosed is returned by Get after Close.
	ErrPoolClosed = errors.New("client: pool closed")
)

// Dialer opens one transport to the server.
type Dialer func(ctx context.Context) (*transport.ClientTransport, error)

// TCPDialer dials addr over TCP with the given transport options.
func TCPDialer(addr string, opts ...transport.Option) Dialer {
	return func(ctx context.Context) (*transport.ClientTransport, error) {
		return transport.Dial(ctx, "tcp", addr, opts...)
	}
}

// Pool keeps up to size multiplexed transports to one server. Unlike a
// borrow/return pool, a transport is shared by every caller that picks it.
//
// The pool starts empty and grows on demand: while fewer than size transports
// are alive, Get dials a new one. Transports whose connection died are dropped
// on the next Get and replaced the same way.
type Pool struct {
	dial   Dialer
	picker loadbalance.Picker
	size   int
	logger *zap.Logger

	mu         sync.Mutex
	transports []*transport.ClientTransport
	closed     bool
}

// NewPool creates a pool of at most size transports (minimum 1). A nil picker
// means round robin.
func NewPool(dial Dialer, size int, picker loadbalance.Picker, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if picker == nil {
		picker = &loadbalance.RoundRobin{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{dial: dial, picker: picker, size: size, logger: logger}
}

// Get returns a live transport.
// Strategy:
//  1. Drop transports that are no longer usable
//  2. If under size, dial a new one and return it
//  3. Otherwise (or if the dial fails but others are alive) let the picker choose
//
// The mutex is held while dialing so the pool never exceeds size.
func (p *Pool) Get(ctx context.Context) (*transport.ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	p.prune()

	if len(p.transports) < p.size {
		t, err := p.dial(ctx)
		if err == nil {
			p.transports = append(p.transports, t)
			return t, nil
		}
		if len(p.transports) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		p.logger.Warn("dial failed, reusing existing transport", zap.Error(err), zap.Int("alive", len(p.transports)))
	}

	endpoints := make([]loadbalance.Endpoint, len(p.transports))
	for i, t := range p.transports {
		endpoints[i] = t
	}
	idx, err := p.picker.Pick(endpoints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p.transports[idx], nil
}

// prune drops dead transports. Caller holds p.mu.
func (p *Pool) prune() {
	alive := p.transports[:0]
	for _, t := range p.transports {
		if err := t.Err(); err != nil {
			p.logger.Debug("dropping dead transport", zap.Error(err))
			continue
		}
		alive = append(alive, t)
	}
	clear(p.transports[len(alive):])
	p.transports = alive
}

// Len returns the number of transports currently held, dead or alive.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

// Close shuts down the pool and closes all transports. Calls still waiting on
// them fail with transport.ErrConnectionLost.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs error
	for _, t := range p.transports {
		errs = multierr.Append(errs, t.Close())
	}
	p.transports = nil
	return errs
}
