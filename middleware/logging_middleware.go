package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lucid-rpc/message"
)

// LoggingMiddleware logs every request with its outcome and duration.
// Failures are logged at warn level, successes at debug.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("id", req.ID),
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if !resp.OK {
				fields = append(fields, zap.String("code", string(resp.Error.Code)), zap.String("error", resp.Error.Message))
				logger.Warn("request failed", fields...)
				return resp
			}
			logger.Debug("request served", fields...)
			return resp
		}
	}
}
