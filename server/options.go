package server

import (
	"go.uber.org/zap"

	"lucid-rpc/codec"
	"lucid-rpc/middleware"
	"lucid-rpc/protocol"
)

type options struct {
	driver      Driver
	codec       codec.Codec
	framer      *protocol.Framer
	logger      *zap.Logger
	middlewares []middleware.Middleware
}

// Option configures a Server.
type Option func(*options)

// WithDriver selects how requests on a connection are executed.
// The default is an unbounded ConcurrentDriver.
func WithDriver(d Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithCodec sets the payload encoding. Clients must use the same one.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMaxFrameSize bounds inbound request frames (0 = unbounded).
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.framer = &protocol.Framer{MaxFrameSize: n} }
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware is equivalent to calling Use after NewServer.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func buildOptions(opts []Option) options {
	o := options{
		driver: NewConcurrentDriver(0),
		codec:  &codec.JSONCodec{},
		framer: protocol.NewFramer(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.driver == nil {
		o.driver = NewConcurrentDriver(0)
	}
	return o
}
