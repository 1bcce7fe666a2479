package server

import (
	"context"

	"golang.org/x/sync/semaphore"

	"lucid-rpc/message"
	"lucid-rpc/middleware"
)

// Driver decides how the requests read from one connection are executed.
// Dispatch must call reply exactly once per request, from any goroutine.
type Driver interface {
	Dispatch(ctx context.Context, req *message.Request, handle middleware.HandlerFunc, reply func(*message.Response))
}

// ConcurrentDriver runs every request in its own goroutine, so a slow handler
// does not hold up later requests on the same connection. Responses go out in
// completion order and the client matches them by id.
type ConcurrentDriver struct {
	sem *semaphore.Weighted
}

// NewConcurrentDriver bounds the number of handlers running at once across all
// connections sharing the driver. Requests over the bound are answered with
// SERVER_BUSY right away. maxInFlight <= 0 means unbounded.
func NewConcurrentDriver(maxInFlight int64) *ConcurrentDriver {
	d := &ConcurrentDriver{}
	if maxInFlight > 0 {
		d.sem = semaphore.NewWeighted(maxInFlight)
	}
	return d
}

func (d *ConcurrentDriver) Dispatch(ctx context.Context, req *message.Request, handle middleware.HandlerFunc, reply func(*message.Response)) {
	if d.sem != nil && !d.sem.TryAcquire(1) {
		reply(message.NewFailure(req.ID, message.Errorf(message.CodeServerBusy, "server busy")))
		return
	}
	go func() {
		if d.sem != nil {
			defer d.sem.Release(1)
		}
		reply(handle(ctx, req))
	}()
}

// SequentialDriver handles requests inline on the connection's read loop:
// responses come back in request order, and a slow handler delays every later
// request on that connection (other connections are unaffected).
type SequentialDriver struct{}

func (SequentialDriver) Dispatch(ctx context.Context, req *message.Request, handle middleware.HandlerFunc, reply func(*message.Response)) {
	reply(handle(ctx, req))
}
