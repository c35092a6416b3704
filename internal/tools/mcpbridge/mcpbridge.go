// Package mcpbridge connects to external MCP tool servers over stdio or
// streamable-HTTP and imports their tool catalogue into a tools.Registry, so
// externally hosted tools are callable exactly like in-process ones.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wspotter/felix/pkg/types"
)

// Transport selects how to reach an external MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ServerConfig describes one external MCP server to connect to.
type ServerConfig struct {
	Name      string
	Transport Transport
	// Command is split on spaces into executable + args for TransportStdio.
	Command string
	Env     map[string]string
	// URL is the endpoint address for TransportStreamableHTTP.
	URL string
}

// Bridge connects to one or more MCP servers and exposes their tools as
// types.ToolSpec values, ready to hand to a tools.Registry.
//
// The zero value is NOT usable; create instances with New.
type Bridge struct {
	mu      sync.RWMutex
	client  *mcpsdk.Client
	servers map[string]*mcpsdk.ClientSession
}

// New creates a ready-to-use Bridge identifying itself as implName/implVersion
// to connected servers.
func New(implName, implVersion string) *Bridge {
	return &Bridge{
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: implName, Version: implVersion}, nil),
		servers: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a session with the server described by cfg and returns
// a ToolSpec for every tool it advertises. If a server with the same Name is
// already connected, the old session is closed first.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) ([]types.ToolSpec, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcpbridge: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcpbridge: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcpbridge: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, fmt.Errorf("mcpbridge: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcpbridge: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	b.mu.Lock()
	if old, ok := b.servers[cfg.Name]; ok {
		_ = old.Close()
	}
	b.servers[cfg.Name] = session
	b.mu.Unlock()

	specs := make([]types.ToolSpec, 0, len(discovered))
	for _, tool := range discovered {
		specs = append(specs, b.buildSpec(cfg.Name, tool))
	}
	return specs, nil
}

// buildSpec converts one discovered MCP tool into a types.ToolSpec whose
// handler routes calls back to the owning server session.
func (b *Bridge) buildSpec(serverName string, tool mcpsdk.Tool) types.ToolSpec {
	return types.ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Category:    "mcp:" + serverName,
		Parameters:  schemaToMap(tool.InputSchema),
		Handler: func(_ types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
			return b.call(context.Background(), serverName, tool.Name, args)
		},
	}
}

// call routes a tool invocation to its owning server session and
// concatenates the returned text content.
func (b *Bridge) call(ctx context.Context, serverName, toolName string, args map[string]any) (types.ToolOutcome, error) {
	b.mu.RLock()
	session, ok := b.servers[serverName]
	b.mu.RUnlock()
	if !ok {
		return types.ToolOutcome{}, fmt.Errorf("mcpbridge: server %q not connected", serverName)
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return types.ToolOutcome{}, fmt.Errorf("mcpbridge: call %q: %w", toolName, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return types.ToolOutcome{}, fmt.Errorf("mcpbridge: %s", sb.String())
	}
	return types.ToolOutcome{Text: sb.String()}, nil
}

// Close shuts down every connected server session.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, session := range b.servers {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpbridge: close server %q: %w", name, err)
		}
		delete(b.servers, name)
	}
	return firstErr
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
