// Command dolchat-tool-dol-data serves the DOL data tools over MCP stdio, so
// they can run in a separate process from the chat server.
package main

import (
	"context"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/dol"
	"github.com/michaelbrown/dolchat/internal/tools"
	"github.com/michaelbrown/dolchat/internal/tools/doltools"
)

func main() {
	// stdout carries the protocol
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("server", "dol-data").Logger()

	interval, _ := time.ParseDuration(os.Getenv("DOL_MIN_INTERVAL"))
	client := dol.New(dol.Config{
		BaseURL:     os.Getenv("DOL_BASE_URL"),
		APIKey:      os.Getenv("DOL_API_KEY"),
		MinInterval: interval,
	})

	registry := tools.NewRegistry()
	if err := doltools.Register(registry, client); err != nil {
		log.Fatal().Err(err).Msg("registering tools")
	}

	s := server.NewMCPServer("dolchat-dol-data", "0.1.0")
	for _, def := range registry.Definitions() {
		s.AddTool(mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def.Parameters),
		}, handler(registry, def.Name))
	}

	if err := server.ServeStdio(s); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// handler routes an MCP call through the registry, which validates the input
// before the DOL tool runs.
func handler(r *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			args = map[string]any{}
		}

		res := r.Call(ctx, name, args)
		if res.Failed() {
			log.Debug().Err(res.Err).Str("tool", name).Msg("tool failed")
			return errResult(tools.EncodeRemoteError(res.Err)), nil
		}
		return textResult(res.JSON()), nil
	}
}

func inputSchema(params map[string]any) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object"}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
