package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"lucid-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewResult(req.ID, "ok")
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.NewResult(req.ID, "ok")
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewFailure(req.ID, message.Errorf(message.CodeInternal, "division by zero"))
}

func newRequest() *message.Request {
	return &message.Request{ID: message.IntID(1), Method: "add"}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if !resp.OK || resp.Result != "ok" {
		t.Fatalf("expect ok result, got %+v", resp)
	}

	handler = LoggingMiddleware(zap.New(core))(failingHandler)
	handler(context.Background(), newRequest())

	if logs.Len() != 2 {
		t.Fatalf("expect 2 log entries, got %d", logs.Len())
	}
	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 1 || failed[0].ContextMap()["code"] != "INTERNAL" {
		t.Fatalf("expect one failure entry with code INTERNAL, got %+v", failed)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if !resp.OK {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	if resp.OK || resp.Error.Code != message.CodeTimeout {
		t.Fatalf("expect TIMEOUT, got %+v", resp)
	}
	if resp.ID != message.IntID(1) {
		t.Fatalf("timeout response must echo the request id, got %s", resp.ID)
	}
}

func TestTimeoutHonoursContextDeadline(t *testing.T) {
	// 不设置超时时间，只用 ctx 自带的 deadline
	handler := TimeOutMiddleware(0)(slowHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	resp := handler(ctx, newRequest())
	if resp.OK || resp.Error.Code != message.CodeTimeout {
		t.Fatalf("expect TIMEOUT, got %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	// 前 2 个应该通过（burst=2）
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if !resp.OK {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}

	// 第 3 个应该被限流
	resp := handler(context.Background(), newRequest())
	if resp.OK || resp.Error.Code != message.CodeServerBusy {
		t.Fatalf("request 3 should be rate limited, got: %+v", resp)
	}
}

func TestRecovery(t *testing.T) {
	panicking := func(ctx context.Context, req *message.Request) *message.Response {
		panic("boom")
	}
	resp := RecoveryMiddleware(nil)(panicking)(context.Background(), newRequest())
	if resp.OK || resp.Error.Code != message.CodeInternal || resp.Error.Message != "panic: boom" {
		t.Fatalf("expect INTERNAL panic response, got %+v", resp)
	}
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	mw := TracingMiddleware(TracingConfig{TracerProvider: tp, MeterProvider: mp})
	mw(echoHandler)(context.Background(), newRequest())
	mw(failingHandler)(context.Background(), &message.Request{ID: message.IntID(2), Method: "divide"})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expect 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "lucid/add" || spans[0].Status().Code != otelcodes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != otelcodes.Error || spans[1].Status().Description != "division by zero" {
		t.Fatalf("expect error status on second span, got %v", spans[1].Status())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "rpc.server.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Fatalf("expect 2 requests counted, got %d", total)
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(RecoveryMiddleware(nil), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if !resp.OK {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name+".before")
				resp := next(ctx, req)
				order = append(order, name+".after")
				return resp
			}
		}
	}

	Chain(tag("A"), tag("B"))(echoHandler)(context.Background(), newRequest())

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}
