package pipeline

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/reelscan/connectivity"
	"github.com/hazyhaar/reelscan/kit"
)

// ServiceRun is the connectivity service name of the pipeline.
const ServiceRun = "reelscan_run"

// RunRequest is the request shape shared by the HTTP API, the MCP tool and
// the connectivity handler. A nil ServiceReady is resolved with a health
// probe when the OCR stage runs.
type RunRequest struct {
	TargetID     string `json:"target_id"`
	Stages       string `json:"stages,omitempty"`
	ServiceReady *bool  `json:"service_ready,omitempty"`
}

// Request converts r into a pipeline Request.
func (p *Pipeline) Request(ctx context.Context, r RunRequest) (Request, error) {
	st, err := ParseStages(r.Stages)
	if err != nil {
		return Request{}, err
	}
	req := Request{TargetID: r.TargetID, Stages: st}
	switch {
	case r.ServiceReady != nil:
		req.ServiceReady = *r.ServiceReady
	case st.normalize().OCR:
		req.ServiceReady = p.ServiceReady(ctx)
	}
	return req, nil
}

// Endpoint returns the run operation shared by every surface. Once a run
// has started its failure is carried by the report, not by the error.
func (p *Pipeline) Endpoint() kit.Endpoint[RunRequest, *Report] {
	return func(ctx context.Context, r RunRequest) (*Report, error) {
		req, err := p.Request(ctx, r)
		if err != nil {
			return nil, err
		}
		rep, err := p.Run(ctx, req)
		if rep == nil {
			return nil, err
		}
		return rep, nil
	}
}

// RegisterConnectivity exposes the pipeline as a local connectivity
// service: JSON RunRequest in, JSON Report out.
func (p *Pipeline) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal(ServiceRun, kit.JSONHandler(p.Endpoint()))
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterMCP registers the reelscan_run tool on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        ServiceRun,
		Description: "Capture a short-form video by target ID, mux audio/video, sample frames and recover on-screen text.",
		InputSchema: inputSchema(map[string]any{
			"target_id":     map[string]any{"type": "string", "description": "Media identifier ([A-Za-z0-9_-], up to 64 chars)"},
			"stages":        map[string]any{"type": "string", "description": "Comma-separated stages: download, frames, ocr (default: all)"},
			"service_ready": map[string]any{"type": "boolean", "description": "Whether the OCR service is up; probed when omitted"},
		}, []string{"target_id"}),
	}

	kit.RegisterMCPTool(srv, tool, p.Endpoint())
}
