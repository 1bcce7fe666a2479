package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"lucid-rpc/message"
)

const instrumentationName = "lucid-rpc"

// TracingConfig selects the OpenTelemetry providers. Nil providers fall back
// to the global ones.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	ServiceName    string // rpc.service attribute, "lucid" when empty
}

// TracingMiddleware starts a server span per request and records the
// rpc.server.requests counter and rpc.server.duration histogram.
func TracingMiddleware(cfg TracingConfig) Middleware {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lucid"
	}

	tracer := cfg.TracerProvider.Tracer(instrumentationName)
	meter := cfg.MeterProvider.Meter(instrumentationName)
	// instrument errors only happen with invalid names; nil instruments are skipped below
	requests, _ := meter.Int64Counter("rpc.server.requests",
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of RPC requests"),
	)
	duration, _ := meter.Float64Histogram("rpc.server.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of RPC requests"),
	)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			ctx, span := tracer.Start(ctx, "lucid/"+req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("rpc.system", "lucid"),
					attribute.String("rpc.service", cfg.ServiceName),
					attribute.String("rpc.method", req.Method),
					attribute.String("rpc.request_id", req.ID.String()),
				),
			)
			defer span.End()

			resp := next(ctx, req)

			status := "ok"
			if !resp.OK {
				status = string(resp.Error.Code)
				span.SetStatus(codes.Error, resp.Error.Message)
				span.SetAttributes(attribute.String("rpc.lucid.error_code", status))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			attrs := metric.WithAttributes(
				attribute.String("rpc.service", cfg.ServiceName),
				attribute.String("rpc.method", req.Method),
				attribute.String("status", status),
			)
			if requests != nil {
				requests.Add(ctx, 1, attrs)
			}
			if duration != nil {
				duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return resp
		}
	}
}
