// Package mcptool implements the [tools.Executor] contract on top of external
// Model Context Protocol servers, using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// An [Executor] connects to one or more servers (stdio subprocess or
// streamable HTTP), imports their tool catalogues as [types.Operation]
// entries, and routes each invocation in a batch to the session that serves
// it. Per-invocation failures, including application-level IsError results,
// come back as error-string results; the executor itself never fails a batch.
//
// Typical usage:
//
//	exec := mcptool.New()
//	defer exec.Close()
//
//	err := exec.Connect(ctx, tools.ServerConfig{
//	    Name:      "files",
//	    Transport: tools.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-file-server --root /srv",
//	})
//
//	catalog := exec.Operations()
//	results, _ := exec.Execute(ctx, ec, invocations)
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/pkg/types"
)

// opEntry ties an imported operation to the server that serves it.
type opEntry struct {
	op     types.Operation
	server string
}

// Executor is an MCP-backed [tools.Executor]. The zero value is not usable;
// create instances with [New]. Safe for concurrent use.
type Executor struct {
	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	ops      map[string]opEntry

	// client is reused across all server connections; the SDK supports
	// multiple concurrent sessions per client.
	client *mcpsdk.Client
}

var _ tools.Executor = (*Executor)(nil)

// New creates a ready-to-use Executor with no connected servers.
func New() *Executor {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "coxswain", Version: "1.0.0"},
		nil,
	)
	return &Executor{
		sessions: make(map[string]*mcpsdk.ClientSession),
		ops:      make(map[string]opEntry),
		client:   client,
	}
}

// Connect establishes a connection to the server described by cfg and imports
// its tool catalogue. Reconnecting a server with the same name closes the old
// connection and replaces its operations.
func (e *Executor) Connect(ctx context.Context, cfg tools.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcptool: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcptool: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case tools.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcptool: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case tools.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcptool: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			t.HTTPClient = &http.Client{Transport: &bearerTransport{token: cfg.Token}}
		}
		transport = t
	}

	session, err := e.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcptool: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcptool: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.sessions[cfg.Name]; ok {
		_ = old.Close()
		for name, entry := range e.ops {
			if entry.server == cfg.Name {
				delete(e.ops, name)
			}
		}
	}
	e.sessions[cfg.Name] = session

	for _, t := range discovered {
		if prev, ok := e.ops[t.Name]; ok && prev.server != cfg.Name {
			slog.Warn("operation name collision between MCP servers; later registration wins",
				"operation", t.Name, "kept", cfg.Name, "shadowed", prev.server)
		}
		e.ops[t.Name] = opEntry{
			op: types.Operation{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			server: cfg.Name,
		}
	}

	slog.Info("connected MCP server", "server", cfg.Name, "operations", len(discovered))
	return nil
}

// Connected returns the names of the currently connected servers, sorted.
// Readiness checks compare it against the configured server list.
func (e *Executor) Connected() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.sessions))
	for name := range e.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operations returns the imported catalog across all connected servers,
// sorted by name.
func (e *Executor) Operations() []types.Operation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Operation, 0, len(e.ops))
	for _, entry := range e.ops {
		out = append(out, entry.op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute routes each invocation to the server that serves its operation.
// Unknown operations, transport failures, and IsError tool results all
// become error-string results. The ExecContext is not forwarded; MCP has no
// standard slot for caller identity.
func (e *Executor) Execute(ctx context.Context, _ tools.ExecContext, invs []types.Invocation) ([]types.InvocationResult, error) {
	results := make([]types.InvocationResult, 0, len(invs))
	for _, inv := range invs {
		res := types.InvocationResult{ID: inv.ID, Name: inv.Name}

		e.mu.RLock()
		entry, ok := e.ops[inv.Name]
		var session *mcpsdk.ClientSession
		if ok {
			session = e.sessions[entry.server]
		}
		e.mu.RUnlock()

		switch {
		case !ok:
			res.Error = fmt.Sprintf("unknown operation %q", inv.Name)
		case session == nil:
			res.Error = fmt.Sprintf("server %q for operation %q is not connected", entry.server, inv.Name)
		default:
			res = e.call(ctx, session, inv)
		}
		results = append(results, res)
	}
	return results, nil
}

// call performs one CallTool round-trip and flattens the response text.
func (e *Executor) call(ctx context.Context, session *mcpsdk.ClientSession, inv types.Invocation) types.InvocationResult {
	res := types.InvocationResult{ID: inv.ID, Name: inv.Name}

	out, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      inv.Name,
		Arguments: inv.Arguments,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if out.IsError {
		res.Error = sb.String()
		if res.Error == "" {
			res.Error = fmt.Sprintf("operation %q reported an error", inv.Name)
		}
		return res
	}
	res.Content = sb.String()
	return res
}

// Close shuts down all server connections. The Executor must not be used
// afterwards.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, session := range e.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptool: close server %q: %w", name, err)
		}
		delete(e.sessions, name)
	}
	e.ops = make(map[string]opEntry)
	return firstErr
}

// splitCommand splits a command string on whitespace into executable and
// arguments, e.g. "/bin/foo --bar baz" becomes ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// schemaToMap converts whatever the SDK hands us for an input schema into a
// plain map. Anything unconvertible degrades to an empty object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// bearerTransport injects a static Authorization header into every request.
type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(clone)
}
