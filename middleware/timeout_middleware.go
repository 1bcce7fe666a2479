package middleware

import (
	"context"
	"time"

	"lucid-rpc/message"
)

// TimeOutMiddleware answers TIMEOUT when the handler has not returned within
// timeout, or before the deadline already on ctx if that comes first.
// timeout <= 0 only enforces the ctx deadline. The handler keeps running in the
// background with a cancelled ctx; its late result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			} else if _, ok := ctx.Deadline(); !ok {
				return next(ctx, req)
			}

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewFailure(req.ID, message.NewError(message.CodeTimeout, "request timed out",
					map[string]any{"method": req.Method}))
			}
		}
	}
}
