// Package kit provides the transport-agnostic endpoint abstraction:
// operations are Endpoints, transports (MCP, HTTP, connectivity) adapt
// them, and Middleware composes cross-cutting behaviour around them.
package kit

import "context"

// Endpoint is a single operation: typed request in, typed response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware is the
// outermost wrapper, executed first on the request path.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
