// Package kit holds the small transport plumbing shared by grimoire's
// surfaces: the Endpoint abstraction, context enrichment helpers, and the
// MCP tool registration bridge.
package kit

import "context"

// Endpoint is a transport-agnostic operation: decode happens at the edge,
// the endpoint sees a typed request and returns a typed response.
type Endpoint func(ctx context.Context, req any) (any, error)

type contextKey string

const (
	// TransportKey marks which surface invoked the endpoint ("http", "mcp", "native").
	TransportKey contextKey = "kit_transport"
	// RequestIDKey carries a per-request correlation id.
	RequestIDKey contextKey = "kit_request_id"
)

// WithTransport tags ctx with the invoking transport name.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport name, defaulting to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

// WithRequestID tags ctx with a correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns the correlation id, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
