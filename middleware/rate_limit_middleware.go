package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"lucid-rpc/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件，超出时返回 SERVER_BUSY
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewFailure(req.ID, message.Errorf(message.CodeServerBusy, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
