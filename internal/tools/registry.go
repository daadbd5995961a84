package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/michaelbrown/dolchat/internal/llm"
)

// Handler executes one tool invocation. Failures are reported in the Result,
// never by panicking.
type Handler interface {
	Call(ctx context.Context, input map[string]any) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, input map[string]any) Result

func (f HandlerFunc) Call(ctx context.Context, input map[string]any) Result {
	return f(ctx, input)
}

// Tool is a registry entry.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema of the input object
	Handler     Handler
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry maps tool names to handlers. Native tools and tools discovered on
// MCP servers share one namespace.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	order       []string
	connections map[string]*MCPConnection // server name → connection
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		connections: make(map[string]*MCPConnection),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	return r.RegisterAll(t)
}

// RegisterAll adds a set of tools. Either every tool is added or, on a
// missing handler, bad schema or name clash, none is.
func (r *Registry) RegisterAll(ts ...Tool) error {
	entries := make([]*entry, 0, len(ts))
	for _, t := range ts {
		if t.Name == "" {
			return fmt.Errorf("tool name is empty")
		}
		if t.Handler == nil {
			return fmt.Errorf("tool %s has no handler", t.Name)
		}
		if t.Parameters == nil {
			t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
		if err != nil {
			return fmt.Errorf("compiling schema for tool %s: %w", t.Name, err)
		}
		entries = append(entries, &entry{tool: t, schema: schema})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if _, exists := r.entries[e.tool.Name]; exists || seen[e.tool.Name] {
			return fmt.Errorf("tool %s already registered", e.tool.Name)
		}
		seen[e.tool.Name] = true
	}
	for _, e := range entries {
		r.entries[e.tool.Name] = e
		r.order = append(r.order, e.tool.Name)
	}
	return nil
}

// RegisterServer launches an MCP tool server and registers every tool it
// exposes.
func (r *Registry) RegisterServer(name string, cfg ServerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	var env []string
	env = append(env, os.Environ()...)
	for k, v := range cfg.Env {
		// Expand environment variable references like ${VAR}
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			v = os.Getenv(v[2 : len(v)-1])
		}
		env = append(env, k+"="+v)
	}

	conn, err := NewMCPConnection(name, cfg.Binary, env, cfg.Args...)
	if err != nil {
		return err
	}

	if err := r.RegisterAll(conn.Tools()...); err != nil {
		conn.Close()
		return fmt.Errorf("registering tools from %s: %w", name, err)
	}

	r.mu.Lock()
	r.connections[name] = conn
	r.mu.Unlock()
	return nil
}

// Definitions returns the declarations of the named tools, or of every tool
// when no names are given, in registration order.
func (r *Registry) Definitions(names ...string) []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	var defs []llm.ToolDef
	for _, name := range r.order {
		if len(names) > 0 && !allowed[name] {
			continue
		}
		t := r.entries[name].tool
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Call validates input against the tool's schema and runs its handler.
// Unknown tools and invalid input yield soft error results.
func (r *Registry) Call(ctx context.Context, name string, input map[string]any) Result {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Failf("Unknown tool: %s", name)
	}

	if input == nil {
		input = map[string]any{}
	}
	if raw, ok := input["_raw"]; ok && len(input) == 1 {
		return Failf("tool input is not valid JSON: %v", raw)
	}

	v, err := e.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return Failf("validating input for %s: %v", name, err)
	}
	if !v.Valid() {
		msgs := make([]string, 0, len(v.Errors()))
		for _, d := range v.Errors() {
			msgs = append(msgs, d.String())
		}
		return Failf("invalid input for %s: %s", name, strings.Join(msgs, "; "))
	}

	res := e.tool.Handler.Call(ctx, input)
	if res.Err != nil {
		log.Debug().Str("tool", name).Err(res.Err).Bool("transient", res.Transient()).Msg("tool failed")
	}
	return res
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Close shuts down all MCP server connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, conn := range r.connections {
		conn.Close()
		delete(r.connections, name)
	}
}
