// Package connectivity provides a uniform dispatch layer for staging
// operations. Every operation is a Handler (bytes in, bytes out), so the
// HTTP API, the MCP surface, and in-process callers all invoke the same
// registry through Call, with cross-cutting middleware (logging, timeout,
// retry, circuit breaking) applied once at registration time.
//
//	router := connectivity.New()
//	router.Use(connectivity.Recovery(logger), connectivity.Timeout(5*time.Second))
//	router.Register("capture", captureHandler)
//
//	resp, err := router.Call(ctx, "capture", payload)
package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// Handler is a transport-agnostic operation: bytes in, bytes out. The
// payload and response are JSON documents by convention.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches operation calls by name. Thread-safe: registration
// and dispatch may happen concurrently.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	chain    []HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Use appends middleware applied to every handler registered afterwards.
// The first middleware passed is the outermost wrapper.
func (r *Router) Use(mws ...HandlerMiddleware) {
	r.mu.Lock()
	r.chain = append(r.chain, mws...)
	r.mu.Unlock()
}

// Register binds an operation name to a handler, wrapping it with the
// middleware chain in effect at registration time. Registering the same
// name twice replaces the previous handler.
func (r *Router) Register(op string, h Handler) {
	r.mu.Lock()
	if len(r.chain) > 0 {
		h = Chain(r.chain...)(h)
	}
	r.handlers[op] = h
	r.mu.Unlock()
}

// Operations returns the registered operation names.
func (r *Router) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		ops = append(ops, name)
	}
	return ops
}

// Call dispatches an operation by name.
func (r *Router) Call(ctx context.Context, op string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[op]
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrOperationNotFound{Operation: op}
	}
	r.logger.DebugContext(ctx, "dispatch", "operation", op, "payload_bytes", len(payload))
	return h(ctx, payload)
}
