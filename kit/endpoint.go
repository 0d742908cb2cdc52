// Package kit is the transport-agnostic endpoint layer: an operation is
// written once as an Endpoint and exposed over HTTP and MCP.
package kit

import "context"

// Endpoint is one operation. req and the response are plain values; each
// transport decodes into and encodes out of them.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
