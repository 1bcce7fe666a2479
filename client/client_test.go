package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lucid-rpc/codec"
	"lucid-rpc/internal/demo"
	"lucid-rpc/loadbalance"
	"lucid-rpc/message"
	"lucid-rpc/middleware"
	"lucid-rpc/protocol"
	"lucid-rpc/server"
	"lucid-rpc/transport"
)

func startDemoServer(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	r := server.NewRouter()
	if err := demo.Register(r); err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(r)
	go svr.Serve(context.Background(), ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

// startFlakyServer drops the first `drops` connections right after reading a
// request, then answers every request with "ok".
func startFlakyServer(t *testing.T, drops int32) (addr string, accepted *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted = &atomic.Int32{}
	env := codec.NewEnvelope(&codec.JSONCodec{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := accepted.Add(1)
			go func() {
				defer conn.Close()
				for {
					payload, err := protocol.ReadFrame(conn)
					if err != nil {
						return
					}
					if n <= drops {
						return
					}
					req, err := env.DecodeRequest(payload)
					if err != nil {
						return
					}
					out, _ := env.EncodeResponse(message.NewResult(req.ID, "ok"))
					if protocol.WriteFrame(conn, out) != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String(), accepted
}

var fastRetry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

func TestClientCall(t *testing.T) {
	addr := startDemoServer(t)
	c := Dial(addr, 2, []transport.Option{transport.WithCodec(&codec.MsgpackCodec{})})
	defer c.Close()

	ctx := context.Background()
	var sum int64
	if err := c.Call(ctx, "add", message.Positional(1, 2), message.Meta{}, &sum); err != nil {
		t.Fatal(err)
	}
	if sum != 3 {
		t.Fatalf("expect 3, got %d", sum)
	}

	var product int64
	err := c.Call(ctx, "Arith.Multiply", message.NewParams(map[string]any{"a": 6, "b": 7}), message.Meta{}, &product)
	if err != nil || product != 42 {
		t.Fatalf("Arith.Multiply: %d, %v", product, err)
	}

	// 服务端错误不重试，直接返回 *message.Error
	err = c.Call(ctx, "divide", message.Positional(1, 0), message.Meta{Idempotent: true}, nil)
	var rpcErr *message.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != message.CodeInternal || rpcErr.Message != "division by zero" {
		t.Fatalf("expect INTERNAL division by zero, got %v", err)
	}

	if got := c.Pool().Len(); got != 2 {
		t.Fatalf("pool should have grown to 2 transports, got %d", got)
	}
}

func TestPoolReplacesDeadTransport(t *testing.T) {
	addr := startDemoServer(t)
	pool := NewPool(TCPDialer(addr), 1, loadbalance.LeastPending{}, nil)
	defer pool.Close()

	ctx := context.Background()
	first, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := pool.Get(ctx)
	if again != first {
		t.Fatal("size 1 pool must hand out the same transport")
	}

	first.Close()
	second, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("dead transport was handed out again")
	}
	if pool.Len() != 1 {
		t.Fatalf("expect 1 transport after replacement, got %d", pool.Len())
	}
}

func TestPoolClose(t *testing.T) {
	addr := startDemoServer(t)
	pool := NewPool(TCPDialer(addr), 2, nil, nil)
	tr, err := pool.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.Err() == nil {
		t.Fatal("transport should be closed with the pool")
	}
	if _, err := pool.Get(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expect ErrPoolClosed, got %v", err)
	}
}

func TestRetryIdempotentOnConnectionLost(t *testing.T) {
	addr, accepted := startFlakyServer(t, 1)

	core, logs := observer.New(zapcore.InfoLevel)
	c := Dial(addr, 1, nil, WithRetryPolicy(fastRetry), WithLogger(zap.New(core)))
	defer c.Close()

	var got string
	if err := c.Call(context.Background(), "ping", message.Params{}, message.Meta{Idempotent: true}, &got); err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Fatalf("expect ok, got %q", got)
	}
	if accepted.Load() != 2 {
		t.Fatalf("expect a redial, server accepted %d connections", accepted.Load())
	}
	if logs.FilterMessage("retrying call").Len() != 1 {
		t.Fatalf("expect one retry log, got %d", logs.FilterMessage("retrying call").Len())
	}
}

func TestNoRetryForNonIdempotent(t *testing.T) {
	addr, accepted := startFlakyServer(t, 1)
	c := Dial(addr, 1, nil, WithRetryPolicy(fastRetry))
	defer c.Close()

	err := c.Call(context.Background(), "charge", message.Params{}, message.Meta{}, nil)
	if !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("expect ErrConnectionLost, got %v", err)
	}
	if accepted.Load() != 1 {
		t.Fatalf("non-idempotent call must not be resent, server accepted %d connections", accepted.Load())
	}
}

func TestRetryWhenUnavailable(t *testing.T) {
	addr, _ := startFlakyServer(t, 0)

	var dials atomic.Int32
	dial := func(ctx context.Context) (*transport.ClientTransport, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return transport.Dial(ctx, "tcp", addr)
	}
	c := NewClient(NewPool(dial, 1, nil, nil), WithRetryPolicy(fastRetry))
	defer c.Close()

	// never reached the server, so even a non-idempotent call is resent
	if err := c.Call(context.Background(), "charge", message.Params{}, message.Meta{}, nil); err != nil {
		t.Fatal(err)
	}
	if dials.Load() != 2 {
		t.Fatalf("expect 2 dials, got %d", dials.Load())
	}
}

func TestRetryGivesUp(t *testing.T) {
	dial := func(ctx context.Context) (*transport.ClientTransport, error) {
		return nil, errors.New("connection refused")
	}
	c := NewClient(NewPool(dial, 1, nil, nil), WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}))

	err := c.Call(context.Background(), "ping", message.Params{}, message.Meta{Idempotent: true}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expect ErrUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = NewClient(NewPool(dial, 1, nil, nil), WithRetryPolicy(RetryPolicy{MaxRetries: 100, BaseDelay: time.Hour}))
	if err := c.Call(ctx, "ping", message.Params{}, message.Meta{}, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("cancelled ctx must stop retrying, got %v", err)
	}
}

func TestNoRetryForServerTimeoutResponse(t *testing.T) {
	var calls atomic.Int32
	r := server.NewRouter()
	r.RegisterFunc("slow", func(ctx context.Context, p message.Params) (any, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(r, server.WithMiddleware(middleware.TimeOutMiddleware(20*time.Millisecond)))
	go svr.Serve(context.Background(), ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	c := Dial(ln.Addr().String(), 1, nil, WithRetryPolicy(fastRetry))
	defer c.Close()

	err = c.Call(context.Background(), "slow", message.Params{}, message.Meta{Idempotent: true}, nil)
	if message.CodeOf(err) != message.CodeTimeout {
		t.Fatalf("expect TIMEOUT from the server, got %v", err)
	}
	if errors.Is(err, transport.ErrTimeout) {
		t.Fatal("a server TIMEOUT response must not look like a client-side timeout")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server answered once, handler invoked %d times", n)
	}
}

func TestShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	idem := message.Meta{Idempotent: true}
	lost := errors.Join(transport.ErrConnectionLost, errors.New("EOF"))

	cases := []struct {
		name    string
		attempt int
		meta    message.Meta
		err     error
		want    bool
	}{
		{"success", 0, idem, nil, false},
		{"timeout idempotent", 0, idem, transport.ErrTimeout, true},
		{"lost idempotent", 1, idem, lost, true},
		{"exhausted", 2, idem, transport.ErrTimeout, false},
		{"timeout not idempotent", 0, message.Meta{}, transport.ErrTimeout, false},
		{"unavailable", 0, message.Meta{}, ErrUnavailable, true},
		{"server error", 0, idem, message.Errorf(message.CodeServerBusy, "server busy"), false},
		// 服务端返回的 TIMEOUT 是最终结果，不重试
		{"server timeout", 0, idem, message.NewError(message.CodeTimeout, "request timed out", nil), false},
	}
	for _, tc := range cases {
		if got := p.ShouldRetry(tc.attempt, tc.meta, tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	want := []time.Duration{50, 100, 200, 300, 300}
	for i, w := range want {
		if got := p.Backoff(i); got != w*time.Millisecond {
			t.Errorf("attempt %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
}
