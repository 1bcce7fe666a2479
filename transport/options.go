package transport

import (
	"go.uber.org/zap"

	"lucid-rpc/codec"
	"lucid-rpc/protocol"
)

type options struct {
	codec  codec.Codec
	framer *protocol.Framer
	ids    IDGenerator
	logger *zap.Logger
}

// Option configures a ClientTransport.
type Option func(*options)

// WithCodec sets the payload encoding. Both ends must agree on it.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMaxFrameSize bounds inbound response frames (0 = unbounded).
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.framer = &protocol.Framer{MaxFrameSize: n} }
}

// WithIDGenerator replaces the default counter ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		codec:  &codec.JSONCodec{},
		framer: protocol.NewFramer(),
		ids:    &CounterGenerator{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
