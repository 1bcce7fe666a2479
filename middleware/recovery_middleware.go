package middleware

import (
	"context"

	"go.uber.org/zap"

	"lucid-rpc/message"
)

// RecoveryMiddleware turns a panic anywhere below it into an INTERNAL response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic while serving request",
						zap.Stringer("id", req.ID), zap.String("method", req.Method), zap.Any("panic", r), zap.Stack("stack"))
					resp = message.NewFailure(req.ID, message.Errorf(message.CodeInternal, "panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
