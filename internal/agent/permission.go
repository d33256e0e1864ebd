package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Bridge naming as seen by the agent CLI.
const (
	BridgeServerName = "skillcheck"
	BridgeToolName   = "approve"
	// PermissionPromptTool is the fully qualified MCP tool name.
	PermissionPromptTool = "mcp__" + BridgeServerName + "__" + BridgeToolName
)

// PermissionInput is what the agent CLI sends when asking for permission.
type PermissionInput struct {
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// permissionReply is the JSON text the agent CLI expects back.
type permissionReply struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// ApprovalBridge exposes an ApprovalFunc as an MCP tool over streamable
// HTTP on a loopback port, so an out-of-process agent can call back into
// the executor at every tool-call boundary.
type ApprovalBridge struct {
	approve  ApprovalFunc
	logger   *slog.Logger
	server   *mcpsdk.Server
	http     *http.Server
	listener net.Listener
	served   chan error
}

// StartApprovalBridge listens on 127.0.0.1 and serves the approve tool
// until Close.
func StartApprovalBridge(approve ApprovalFunc, logger *slog.Logger) (*ApprovalBridge, error) {
	if approve == nil {
		return nil, errors.New("approval bridge: nil approval func")
	}
	b := &ApprovalBridge{approve: approve, logger: logger, served: make(chan error, 1)}

	b.server = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    BridgeServerName,
		Version: "0.1.0",
	}, nil)
	mcpsdk.AddTool(b.server, &mcpsdk.Tool{
		Name:        BridgeToolName,
		Description: "Decide whether the agent may run a tool. Returns a JSON permission decision.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, b.handle)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("approval bridge listen: %w", err)
	}
	b.listener = ln
	b.http = &http.Server{
		Handler: mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
			return b.server
		}, nil),
	}
	go func() {
		err := b.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		b.served <- err
	}()
	return b, nil
}

// URL returns the MCP endpoint.
func (b *ApprovalBridge) URL() string {
	return "http://" + b.listener.Addr().String()
}

// MCPConfig returns the --mcp-config document registering the bridge.
func (b *ApprovalBridge) MCPConfig() string {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			BridgeServerName: map[string]any{
				"type": "http",
				"url":  b.URL(),
			},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

// Close stops serving and waits for the listener to exit.
func (b *ApprovalBridge) Close() error {
	if err := b.http.Close(); err != nil {
		return err
	}
	return <-b.served
}

func (b *ApprovalBridge) handle(ctx context.Context, _ *mcpsdk.CallToolRequest, in PermissionInput) (*mcpsdk.CallToolResult, any, error) {
	input := in.Input
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}

	reply := permissionReply{Behavior: "allow", UpdatedInput: input}
	dec, err := b.approve(ctx, ToolRequest{ID: in.ToolUseID, Name: in.ToolName, Input: input})
	switch {
	case err != nil:
		reply = permissionReply{Behavior: "deny", Message: err.Error()}
	case !dec.Allow:
		reply = permissionReply{Behavior: "deny", Message: dec.Message}
	case len(dec.UpdatedInput) > 0:
		reply.UpdatedInput = dec.UpdatedInput
	}
	if b.logger != nil {
		b.logger.Debug("permission decision", "tool", in.ToolName, "behavior", reply.Behavior)
	}

	text, err := json.Marshal(reply)
	if err != nil {
		return nil, nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
	}, nil, nil
}
