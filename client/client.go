// Package client is the caller-facing API: a Client sends calls over a Pool of
// multiplexed transports and applies a RetryPolicy.
//
//	Client.Call
//	  → Pool.Get (dial on demand, Picker chooses) → ClientTransport.Call
//	  → on timeout / connection loss: RetryPolicy → backoff → next attempt
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lucid-rpc/message"
	"lucid-rpc/transport"
)

type Client struct {
	pool   *Pool
	retry  RetryPolicy
	logger *zap.Logger
}

type Option func(*Client)

// WithRetryPolicy replaces DefaultRetryPolicy. RetryPolicy{} disables retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(pool *Pool, opts ...Option) *Client {
	c := &Client{pool: pool, retry: DefaultRetryPolicy, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial builds a client with a pool of size TCP transports to addr.
func Dial(addr string, size int, topts []transport.Option, opts ...Option) *Client {
	c := NewClient(nil, opts...)
	c.pool = NewPool(TCPDialer(addr, topts...), size, nil, c.logger)
	return c
}

// Call invokes method and decodes the result into reply (nil to discard it).
// A server error response comes back as a *message.Error.
func (c *Client) Call(ctx context.Context, method string, params message.Params, meta message.Meta, reply any) error {
	for attempt := 0; ; attempt++ {
		err := c.call(ctx, method, params, meta, reply)
		if !c.retry.ShouldRetry(attempt, meta, err) || ctx.Err() != nil {
			return err
		}

		delay := c.retry.Backoff(attempt)
		c.logger.Info("retrying call",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params message.Params, meta message.Meta, reply any) error {
	t, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}
	return t.Call(ctx, method, params, meta, reply)
}

// Pool returns the client's transport pool.
func (c *Client) Pool() *Pool {
	return c.pool
}

// Close closes every transport in the pool.
func (c *Client) Close() error {
	return c.pool.Close()
}
