package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/michaelbrown/dolchat/internal/dol"
)

// MCPConnection wraps an mcp-go stdio client for a single tool server.
type MCPConnection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// NewMCPConnection launches an MCP server subprocess and initializes the connection.
func NewMCPConnection(name, binary string, env []string, args ...string) (*MCPConnection, error) {
	c, err := client.NewStdioMCPClient(binary, env, args...)
	if err != nil {
		return nil, fmt.Errorf("starting MCP server %s (%s): %w", name, binary, err)
	}

	ctx := context.Background()

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "dolchat",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP server %s: %w", name, err)
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("listing tools from %s: %w", name, err)
	}

	return &MCPConnection{
		name:   name,
		client: c,
		tools:  result.Tools,
	}, nil
}

// Tools converts the server's tool list to registry entries.
func (mc *MCPConnection) Tools() []Tool {
	var out []Tool
	for _, t := range mc.tools {
		params := map[string]any{
			"type": t.InputSchema.Type,
		}
		if t.InputSchema.Properties != nil {
			params["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
		name := t.Name
		out = append(out, Tool{
			Name:        name,
			Description: t.Description,
			Parameters:  params,
			Handler: HandlerFunc(func(ctx context.Context, input map[string]any) Result {
				return mc.CallTool(ctx, name, input)
			}),
		})
	}
	return out
}

// CallTool invokes a tool on this MCP server.
func (mc *MCPConnection) CallTool(ctx context.Context, name string, args map[string]any) Result {
	result, err := mc.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return Fail(&dol.Error{
			Kind:    dol.KindConnectivity,
			Message: fmt.Sprintf("calling tool %s on %s: %v", name, mc.name, err),
			Err:     err,
		})
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return Fail(decodeRemoteError(text))
	}

	var payload any
	if json.Unmarshal([]byte(text), &payload) == nil {
		return OK(payload)
	}
	return OK(text)
}

// RemoteError is the JSON shape tool servers use to report failures, so the
// kind survives the process boundary.
type RemoteError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// EncodeRemoteError renders err for an MCP error result.
func EncodeRemoteError(err error) string {
	re := RemoteError{Error: err.Error()}
	var dErr *dol.Error
	if errors.As(err, &dErr) {
		re.Kind = string(dErr.Kind)
	}
	data, _ := json.Marshal(re)
	return string(data)
}

func decodeRemoteError(text string) error {
	var re RemoteError
	if json.Unmarshal([]byte(text), &re) != nil || re.Error == "" {
		return errors.New(strings.TrimPrefix(text, "error: "))
	}
	if re.Kind == "" {
		return errors.New(re.Error)
	}
	return &dol.Error{Kind: dol.Kind(re.Kind), Message: re.Error}
}

// Close shuts down the MCP server subprocess.
func (mc *MCPConnection) Close() {
	mc.client.Close()
}
