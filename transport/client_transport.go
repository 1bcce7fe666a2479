// Package transport implements the client side of a connection: request/response
// correlation over a single multiplexed connection.
//
// Every request gets a fresh id and a record in the PendingTable before its frame
// is written. A background goroutine (recvLoop) reads response frames and resolves
// the record with the matching id, so responses may arrive in any order.
//
//	goroutine-1 ──Submit(id=1)──┐
//	goroutine-2 ──Submit(id=2)──┼──→ single conn ──→ Server
//	goroutine-3 ──Submit(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] resolved → Await(2) in goroutine-2 returns
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lucid-rpc/codec"
	"lucid-rpc/message"
	"lucid-rpc/protocol"
)

// ClientTransport owns one connection and the calls outstanding on it.
type ClientTransport struct {
	conn    net.Conn
	env     *codec.Envelope
	framer  *protocol.Framer
	ids     IDGenerator
	logger  *zap.Logger
	pending *PendingTable

	// Write lock: concurrent Submits share one conn, and a frame must go out in
	// one piece or the peer sees interleaved bytes.
	sending sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	recvDone  chan struct{}
	err       error // cause of shutdown, readable after done is closed
}

// Dial connects to addr and wraps the connection in a ClientTransport.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewClientTransport(conn, opts...), nil
}

// NewClientTransport takes ownership of conn and starts the receive loop.
func NewClientTransport(conn net.Conn, opts ...Option) *ClientTransport {
	o := buildOptions(opts)
	t := &ClientTransport{
		conn:     conn,
		env:      codec.NewEnvelope(o.codec),
		framer:   o.framer,
		ids:      o.ids,
		logger:   o.logger.With(zap.String("conn", conn.RemoteAddr().String())),
		pending:  NewPendingTable(),
		done:     make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	go t.recvLoop()
	return t
}

// Submit sends one request and returns its id without waiting for the response.
// Collect the outcome with Await. A response nobody awaits is kept until the
// request's timeout_ms elapses, or for a minute when it has none.
func (t *ClientTransport) Submit(ctx context.Context, method string, params message.Params, meta message.Meta) (message.ID, error) {
	if err := ctx.Err(); err != nil {
		return message.ID{}, err
	}

	// Register BEFORE writing, otherwise a fast server can answer before the
	// record exists and recvLoop would drop the response as unknown.
	var id message.ID
	for attempt := 0; ; attempt++ {
		id = t.ids.Next()
		err := t.pending.Add(id, method, meta.Timeout())
		if err == nil {
			break
		}
		if !errors.Is(err, errDuplicateID) || attempt == 2 {
			return message.ID{}, err
		}
	}

	payload, err := t.env.EncodeRequest(&message.Request{ID: id, Method: method, Params: params, Meta: meta})
	if err != nil {
		t.pending.Remove(id)
		return message.ID{}, fmt.Errorf("transport: encode request: %w", err)
	}

	t.sending.Lock()
	err = t.framer.WriteFrame(t.conn, payload)
	t.sending.Unlock()
	if err != nil {
		t.pending.Remove(id)
		if !protocol.IsFramingError(err) {
			// part of the frame may already be on the wire
			t.shutdown(err)
		}
		return message.ID{}, fmt.Errorf("transport: write request %s: %w", id, err)
	}
	return id, nil
}

// Await waits for the outcome of a submitted call. timeout overrides the
// request's timeout_ms when positive. A server error response is returned as
// a *message.Error.
func (t *ClientTransport) Await(ctx context.Context, id message.ID, timeout time.Duration) (any, error) {
	resp, err := t.pending.Wait(ctx, id, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Call submits a request, waits for it and decodes the result into reply
// (skipped when reply is nil).
func (t *ClientTransport) Call(ctx context.Context, method string, params message.Params, meta message.Meta, reply any) error {
	id, err := t.Submit(ctx, method, params, meta)
	if err != nil {
		return err
	}
	result, err := t.Await(ctx, id, 0)
	if err != nil {
		return err
	}
	if reply == nil || result == nil {
		return nil
	}
	if err := message.Convert(result, reply); err != nil {
		return fmt.Errorf("transport: decode result of %s: %w", method, err)
	}
	return nil
}

// Pending returns the number of calls still tracked.
func (t *ClientTransport) Pending() int {
	return t.pending.Len()
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Done is closed once the transport is unusable.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns why the transport stopped, or nil while it is alive.
func (t *ClientTransport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Close releases the connection. Calls still waiting fail with ErrConnectionLost.
// Close waits for the receive loop to exit, so no frame is read afterward.
func (t *ClientTransport) Close() error {
	err := t.shutdown(ErrClosed)
	<-t.recvDone
	return err
}

// shutdown runs once: it records the cause, closes the conn and releases every
// pending call. It returns the conn.Close error of the first call only.
func (t *ClientTransport) shutdown(cause error) error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.err = cause
		closeErr = t.conn.Close()
		close(t.done)

		n := t.pending.FailAll(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
		if errors.Is(cause, ErrClosed) {
			t.logger.Debug("transport closed", zap.Int("released", n))
		} else {
			t.logger.Warn("connection lost", zap.Error(cause), zap.Int("released", n))
		}
	})
	if errors.Is(closeErr, net.ErrClosed) {
		return nil
	}
	return closeErr
}

// recvLoop is the only reader of the conn. Frame boundaries can only be found by
// reading sequentially, so a second reader would corrupt the stream.
func (t *ClientTransport) recvLoop() {
	defer close(t.recvDone)

	for {
		payload, err := t.framer.ReadFrame(t.conn)
		if err != nil {
			select {
			case <-t.done:
			default:
				t.shutdown(err)
			}
			return
		}

		resp, err := t.env.DecodeResponse(payload)
		if err != nil {
			t.dropUndecodable(err)
			continue
		}

		if !t.pending.Resolve(resp) {
			// nobody is waiting: the call timed out or the id was never ours
			t.logger.Info("discarding late response", zap.Stringer("id", resp.ID), zap.Bool("ok", resp.OK))
		}
	}
}

func (t *ClientTransport) dropUndecodable(err error) {
	if errors.Is(err, codec.ErrUnexpectedType) {
		t.logger.Debug("skipping non-response frame", zap.Error(err))
		return
	}

	var de *codec.DecodeError
	if errors.As(err, &de) && de.HasID() {
		if t.pending.Fail(de.ID, de.Err) {
			return
		}
		t.logger.Info("discarding late malformed response", zap.Stringer("id", de.ID), zap.Error(err))
		return
	}
	t.logger.Warn("dropping malformed response", zap.Error(err))
}
