// Package kit carries request-scoped values and the MCP tool adapter shared
// by the reelscan surfaces (HTTP API, MCP, CLI).
package kit

import "context"

type contextKey int

// Context keys. TransportKey is exported so adapters can test presence.
const (
	TransportKey contextKey = iota
	RequestIDKey
	RunIDKey
)

// Transport names.
const (
	TransportCLI     = "cli"
	TransportHTTP    = "http"
	TransportMCP     = "mcp"
	TransportMCPQUIC = "mcp_quic"
)

// WithTransport records which surface a call came in through.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to TransportCLI.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return TransportCLI
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithRunID tags ctx with the pipeline run it serves, for log correlation.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(RunIDKey).(string)
	return v
}
