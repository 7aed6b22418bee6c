package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Endpoint is one operation served identically over every surface.
type Endpoint[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// RegisterMCPTool exposes ep as an MCP tool. Arguments decode into Req,
// unknown fields rejected, and the response comes back as one JSON text
// block. Decode and endpoint failures are tool errors (IsError), not
// protocol errors. The context is tagged TransportMCP unless a transport
// is already set, and carries the session ID as request ID.
func RegisterMCPTool[Req, Resp any](srv *mcp.Server, tool *mcp.Tool, ep Endpoint[Req, Resp]) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if err := decodeStrict(call.Params.Arguments, &req); err != nil {
			return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
		}
		if _, ok := ctx.Value(TransportKey).(string); !ok {
			ctx = WithTransport(ctx, TransportMCP)
		}
		if GetRequestID(ctx) == "" && call.Session != nil {
			ctx = WithRequestID(ctx, call.Session.ID())
		}

		resp, err := ep(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode response: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

// JSONHandler adapts ep to a bytes-in, bytes-out service handler, the
// shape connectivity routes dispatch to.
func JSONHandler[Req, Resp any](ep Endpoint[Req, Resp]) func(context.Context, []byte) ([]byte, error) {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := decodeStrict(payload, &req); err != nil {
			return nil, fmt.Errorf("kit: decode request: %w", err)
		}
		resp, err := ep(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
