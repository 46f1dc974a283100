package stage

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domstage/kit"
)

// RegisterMCP registers staging tools on an MCP server.
func (s *Stage) RegisterMCP(srv *mcp.Server) {
	s.registerSelectTool(srv)
	s.registerCaptureTool(srv)
	s.registerUndoTool(srv)
	s.registerRedoTool(srv)
	s.registerExportTool(srv)
	s.registerStatusTool(srv)
	s.registerArtifactsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

// --- select ---

type selectRequest struct {
	Selector   string `json:"selector"`
	Synthesize bool   `json:"synthesize,omitempty"`
}

func (s *Stage) registerSelectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_select",
		Description: "Select a target element by CSS selector. Reports match status, confidence, and identity fingerprint.",
		InputSchema: inputSchema(map[string]any{
			"selector":   map[string]any{"type": "string", "description": "CSS selector for the target element"},
			"synthesize": map[string]any{"type": "boolean", "description": "Replace the selector with a synthesized stable one before selecting"},
		}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*selectRequest)
		if r.Synthesize {
			return s.SuggestTarget(ctx, r.Selector)
		}
		return s.SelectTarget(ctx, r.Selector)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[selectRequest]())
}

// --- capture ---

type captureRequest struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

func (s *Stage) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_capture",
		Description: "Capture a style edit on the selected target as an undoable patch. Records the prior value for reversal.",
		InputSchema: inputSchema(map[string]any{
			"property": map[string]any{"type": "string", "description": "CSS property name (e.g. color)"},
			"value":    map[string]any{"type": "string", "description": "New property value"},
		}, []string{"property", "value"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureRequest)
		return s.Capture(ctx, r.Property, r.Value)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[captureRequest]())
}

// --- undo / redo ---

type emptyRequest struct{}

type stepReply struct {
	Stepped bool        `json:"stepped"`
	Result  *StepResult `json:"result,omitempty"`
}

func (s *Stage) registerUndoTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_undo",
		Description: "Park the most recent patch. A no-op when the history is empty.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		res, err := s.Undo(ctx)
		if err != nil {
			return nil, err
		}
		return &stepReply{Stepped: res != nil, Result: res}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[emptyRequest]())
}

func (s *Stage) registerRedoTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_redo",
		Description: "Re-apply the most recently parked patch. A no-op when nothing is parked.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		res, err := s.Redo(ctx)
		if err != nil {
			return nil, err
		}
		return &stepReply{Stepped: res != nil, Result: res}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[emptyRequest]())
}

// --- export ---

type exportRequest struct {
	Persist bool `json:"persist,omitempty"`
}

func (s *Stage) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_export",
		Description: "Assemble the applied patches into a versioned export artifact. Optionally persists it to the artifact store.",
		InputSchema: inputSchema(map[string]any{
			"persist": map[string]any{"type": "boolean", "description": "Store the artifact (requires a configured artifact store)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*exportRequest)
		if r.Persist {
			rec, artifact, err := s.Export(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"record": rec, "artifact": artifact}, nil
		}
		return s.BuildExport(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[exportRequest]())
}

// --- status ---

func (s *Stage) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_status",
		Description: "Report the staging status: page, target, patch counts, execution mode, and session state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Status(), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[emptyRequest]())
}

// --- artifacts ---

type artifactsRequest struct {
	PageURL string `json:"page_url,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Stage) registerArtifactsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domstage_artifacts",
		Description: "List persisted export artifacts, newest first.",
		InputSchema: inputSchema(map[string]any{
			"page_url": map[string]any{"type": "string", "description": "Filter by captured page URL"},
			"limit":    map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*artifactsRequest)
		return s.Artifacts(ctx, r.PageURL, r.Limit)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeAs[artifactsRequest]())
}

// decodeAs builds an MCP argument decoder for a request type.
func decodeAs[T any]() func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := new(T)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
}
