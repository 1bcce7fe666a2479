package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lucid-rpc/message"
)

// ErrDuplicateMethod is returned when a method name is registered twice.
var ErrDuplicateMethod = errors.New("server: method already registered")

// Handler serves one method. A returned *message.Error reaches the caller
// unchanged; any other error becomes INTERNAL.
type Handler interface {
	ServeRPC(ctx context.Context, params message.Params) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params message.Params) (any, error)

func (f HandlerFunc) ServeRPC(ctx context.Context, params message.Params) (any, error) {
	return f(ctx, params)
}

// Router maps method names to handlers. Registration normally happens before
// serving; lookups take a read lock and are safe from any number of connections.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register associates method with h. Registering a name twice fails with
// ErrDuplicateMethod and keeps the first handler.
func (r *Router) Register(method string, h Handler) error {
	if method == "" {
		return errors.New("server: method name is required")
	}
	if h == nil {
		return fmt.Errorf("server: nil handler for %q", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateMethod, method)
	}
	r.handlers[method] = h
	return nil
}

// RegisterFunc registers a plain function.
func (r *Router) RegisterFunc(method string, f func(ctx context.Context, params message.Params) (any, error)) error {
	if f == nil {
		return fmt.Errorf("server: nil handler for %q", method)
	}
	return r.Register(method, HandlerFunc(f))
}

// RegisterService registers the exported methods of rcvr as "name.Method".
// An empty name uses the receiver's type name. See newService for the method
// shapes that qualify. Either every method is registered or none is.
func (r *Router) RegisterService(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for method := range svc.methods {
		if _, exists := r.handlers[svc.name+"."+method]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateMethod, svc.name+"."+method)
		}
	}
	for method, mt := range svc.methods {
		r.handlers[svc.name+"."+method] = &serviceMethod{svc: svc, mt: mt}
	}
	return nil
}

// Lookup returns the handler for method.
func (r *Router) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[method]
	r.mu.RUnlock()
	return h, ok
}

// Methods returns the registered method names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Handle dispatches req and always returns exactly one response for it.
// Handler errors and panics are converted, never propagated.
func (r *Router) Handle(ctx context.Context, req *message.Request) *message.Response {
	h, ok := r.Lookup(req.Method)
	if !ok {
		return message.NewFailure(req.ID, message.NewError(message.CodeMethodNotFound,
			"Method not found: "+req.Method, map[string]any{"method": req.Method}))
	}

	result, err := invoke(ctx, h, req.Params)
	if err != nil {
		return message.NewFailure(req.ID, message.AsError(err))
	}
	return message.NewResult(req.ID, result)
}

func invoke(ctx context.Context, h Handler, params message.Params) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, message.Errorf(message.CodeInternal, "panic: %v", p)
		}
	}()
	return h.ServeRPC(ctx, params)
}
