// Package server implements the serving side: a Router of method handlers, a
// Driver that decides how requests run, and a Server that supervises connections.
//
// Request processing pipeline:
//
//	Accept conn → ServeConn (single goroutine reads frames)
//	  → Envelope.DecodeRequest → Driver.Dispatch
//	    → Middleware Chain → Router.Handle → handler → Envelope.EncodeResponse → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lucid-rpc/codec"
	"lucid-rpc/message"
	"lucid-rpc/middleware"
	"lucid-rpc/protocol"
)

// ErrServerClosed is returned by Serve and ServeConn after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server owns the accepted connections and the requests running on them.
type Server struct {
	router *Router
	driver Driver
	env    *codec.Envelope
	framer *protocol.Framer
	logger *zap.Logger

	// Registered middlewares (applied in order) and the chain built from them:
	// middleware(middleware(...(router.Handle)))
	middlewares []middleware.Middleware
	handler     atomic.Pointer[middleware.HandlerFunc]

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*connState]struct{}
	active    int           // requests dispatched and not yet answered
	idle      chan struct{} // closed when active drops to 0 during shutdown
	shutdown  atomic.Bool
}

// connState is everything owned by one connection; it is torn down as a unit.
type connState struct {
	conn     net.Conn
	logger   *zap.Logger
	writeMu  sync.Mutex // shared by all requests on this conn so frames never interleave
	inflight sync.WaitGroup
}

// NewServer creates a server dispatching to router.
func NewServer(router *Router, opts ...Option) *Server {
	o := buildOptions(opts)
	s := &Server{
		router:    router,
		driver:    o.driver,
		env:       codec.NewEnvelope(o.codec),
		framer:    o.framer,
		logger:    o.logger,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*connState]struct{}),
	}
	s.Use(o.middlewares...)
	return s
}

// Use appends middlewares. Call it before serving.
func (s *Server) Use(mws ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, mws...)
	handler := middleware.Chain(s.middlewares...)(s.router.Handle)
	s.handler.Store(&handler)
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Serve accepts connections on ln until ctx is done or Shutdown is called,
// running ServeConn for each one in its own goroutine. It returns nil after a
// graceful stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln) {
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("serving", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown and ctx cancellation close the listener; that is not an error
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil && !errors.Is(err, ErrServerClosed) {
				s.logger.Debug("connection ended", zap.String("conn", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

// ServeConn runs the read loop for one established connection and closes it on
// return. Reads are sequential (frame boundaries depend on it); execution of
// each request is up to the Driver. It returns nil when the peer hangs up.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	cs := &connState{conn: conn, logger: s.logger.With(zap.String("conn", conn.RemoteAddr().String()))}
	if !s.trackConn(cs) {
		conn.Close()
		return ErrServerClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		// close before waiting: a hung handler must not pin the socket
		cancel()
		conn.Close()
		cs.inflight.Wait()
		s.untrackConn(cs)
		cs.logger.Debug("connection closed")
	}()
	cs.logger.Debug("connection opened")

	for {
		payload, err := s.framer.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				return nil
			}
			cs.logger.Warn("read failed, closing connection", zap.Error(err))
			return err
		}

		req, err := s.env.DecodeRequest(payload)
		if err != nil {
			if errors.Is(err, codec.ErrUnexpectedType) {
				cs.logger.Debug("skipping non-request frame", zap.Error(err))
				continue
			}
			var de *codec.DecodeError
			if errors.As(err, &de) && de.HasID() {
				cs.logger.Info("rejecting malformed request", zap.Stringer("id", de.ID), zap.Error(err))
				s.write(cs, message.NewFailure(de.ID, de.Err))
				continue
			}
			// no id, no way to answer
			cs.logger.Warn("undecodable request without id, closing connection", zap.Error(err))
			return err
		}

		s.dispatch(ctx, cs, req)
	}
}

func (s *Server) dispatch(ctx context.Context, cs *connState, req *message.Request) {
	if !s.begin() {
		s.write(cs, message.NewFailure(req.ID, message.Errorf(message.CodeServerBusy, "server shutting down")))
		return
	}
	cs.inflight.Add(1)

	// timeout_ms is the caller's wait budget; work past it is wasted, so the
	// handler sees it as a deadline.
	hctx, cancel := ctx, context.CancelFunc(func() {})
	if d := req.Meta.Timeout(); d > 0 {
		hctx, cancel = context.WithTimeout(ctx, d)
	}

	handler := *s.handler.Load()
	s.driver.Dispatch(hctx, req, handler, func(resp *message.Response) {
		cancel()
		s.write(cs, resp)
		cs.inflight.Done()
		s.end()
	})
}

// write encodes and sends resp. A response that cannot be encoded is replaced by
// an INTERNAL failure so the caller still gets an answer for its id.
func (s *Server) write(cs *connState, resp *message.Response) {
	payload, err := s.env.EncodeResponse(resp)
	if err != nil {
		cs.logger.Error("encode response failed", zap.Stringer("id", resp.ID), zap.Error(err))
		payload, err = s.env.EncodeResponse(message.NewFailure(resp.ID,
			message.Errorf(message.CodeInternal, "encode response: %v", err)))
		if err != nil {
			return
		}
	}

	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if err := s.framer.WriteFrame(cs.conn, payload); err != nil {
		cs.logger.Warn("write response failed", zap.Stringer("id", resp.ID), zap.Error(err))
		// unblock the read loop so the connection is torn down
		cs.conn.Close()
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (new requests are answered SERVER_BUSY)
//  2. Close the listeners (stop accepting new connections)
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	var errs error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	var idle chan struct{}
	if s.active > 0 {
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		idle = s.idle
	}
	s.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-time.After(timeout):
			errs = multierr.Append(errs, fmt.Errorf("server: timeout waiting for ongoing requests to finish"))
		}
	}

	s.mu.Lock()
	for cs := range s.conns {
		if err := cs.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	s.mu.Unlock()
	return errs
}

func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.active++
	return true
}

func (s *Server) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.active == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}

func (s *Server) trackConn(cs *connState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[cs] = struct{}{}
	return true
}

func (s *Server) untrackConn(cs *connState) {
	s.mu.Lock()
	delete(s.conns, cs)
	s.mu.Unlock()
}
