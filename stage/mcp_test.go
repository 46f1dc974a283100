package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "domstage-test", Version: "0.1.0"}

// mcpSession creates a Stage, registers MCP tools, and returns a connected
// client session that can call tools end-to-end.
func mcpSession(t *testing.T) (*Stage, *mcp.ClientSession) {
	t.Helper()
	s := newStage(t, withTestStore(t))

	srv := mcp.NewServer(testImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return s, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCPSelectCaptureExport(t *testing.T) {
	_, session := mcpSession(t)

	out := callTool(t, session, "domstage_select", map[string]any{
		"selector": "header#top h1",
	})
	var target Target
	if err := json.Unmarshal([]byte(out), &target); err != nil {
		t.Fatalf("decode target: %v", err)
	}
	if !target.Unique() {
		t.Fatalf("target = %+v", target)
	}

	out = callTool(t, session, "domstage_capture", map[string]any{
		"property": "color",
		"value":    "red",
	})
	var res CaptureResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode capture result: %v", err)
	}
	if !res.Captured() {
		t.Fatalf("capture result = %+v", res)
	}

	out = callTool(t, session, "domstage_export", map[string]any{"persist": true})
	var export struct {
		Record struct {
			ID         string `json:"id"`
			PatchCount int    `json:"patch_count"`
		} `json:"record"`
	}
	if err := json.Unmarshal([]byte(out), &export); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if export.Record.ID == "" || export.Record.PatchCount != 1 {
		t.Fatalf("export record = %+v", export.Record)
	}

	out = callTool(t, session, "domstage_artifacts", map[string]any{})
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(records))
	}
}

func TestMCPUndoRedo(t *testing.T) {
	_, session := mcpSession(t)

	callTool(t, session, "domstage_select", map[string]any{"selector": "header#top h1"})
	callTool(t, session, "domstage_capture", map[string]any{"property": "color", "value": "red"})

	out := callTool(t, session, "domstage_undo", map[string]any{})
	var step stepReply
	if err := json.Unmarshal([]byte(out), &step); err != nil {
		t.Fatalf("decode undo: %v", err)
	}
	if !step.Stepped || step.Result.Patch.Property != "color" {
		t.Fatalf("undo = %+v", step)
	}

	out = callTool(t, session, "domstage_redo", map[string]any{})
	if err := json.Unmarshal([]byte(out), &step); err != nil {
		t.Fatalf("decode redo: %v", err)
	}
	if !step.Stepped {
		t.Fatalf("redo = %+v", step)
	}

	// Empty history: a defined no-op, not an error.
	callTool(t, session, "domstage_undo", map[string]any{})
	out = callTool(t, session, "domstage_undo", map[string]any{})
	if err := json.Unmarshal([]byte(out), &step); err != nil {
		t.Fatalf("decode undo: %v", err)
	}
	if step.Stepped {
		t.Fatalf("undo on empty history = %+v", step)
	}
}

func TestMCPStatus(t *testing.T) {
	_, session := mcpSession(t)

	out := callTool(t, session, "domstage_status", map[string]any{})
	var r Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if r.PageURL != "https://example.com/plans" || r.PatchCount != 0 {
		t.Fatalf("status = %+v", r)
	}
}
