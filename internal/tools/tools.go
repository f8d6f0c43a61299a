// Package tools defines the tool-execution contract between the session loop
// and whatever actually runs operations: an [Executor] receives one batch of
// invocations per session iteration and returns one result per invocation, in
// order.
//
// Two executors ship with the engine: [FuncExecutor] for in-process Go
// functions, and the MCP-backed executor in the mcptool subpackage for
// operations served by external Model Context Protocol servers. The mock
// subpackage provides a recording double for tests.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/crewmatch/coxswain/pkg/types"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns the server as a subprocess and speaks MCP over
	// its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a remote server via the MCP
	// Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies this server in logs and errors. Must be unique
	// within a single executor.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable path (and optional arguments, split on
	// whitespace) used when Transport is "stdio". Ignored otherwise.
	Command string

	// URL is the endpoint address used when Transport is
	// "streamable-http". Ignored for stdio.
	URL string

	// Token, when non-empty, is sent as a Bearer token with every request
	// to a streamable-http server. Ignored for stdio.
	Token string

	// Env holds additional environment variables injected into the server
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string
}

// Caller identifies who a session is running on behalf of.
type Caller struct {
	// ID is the caller's stable identifier.
	ID string

	// Roles are the caller's authorization roles, passed through to
	// executors that enforce access control.
	Roles []string
}

// ExecContext carries session identity into an executor. Executors that
// gate operations on caller identity read it; others may ignore it.
type ExecContext struct {
	ConversationID string
	CallerID       string
	Roles          []string
}

// Executor runs one batch of invocations and returns one result per
// invocation, in the same order.
//
// Per-invocation failures must be reported inside the corresponding
// [types.InvocationResult] (non-empty Error field), not as the error return:
// the session feeds such results back to the model and keeps going. The
// error return is reserved for batch-level failures (for example a lost
// server connection) where no individual results could be produced.
type Executor interface {
	Execute(ctx context.Context, ec ExecContext, invs []types.Invocation) ([]types.InvocationResult, error)
}

// Handler is an in-process operation implementation. Returning a non-nil
// error marks the invocation's result as failed; it never halts the batch.
type Handler func(ctx context.Context, ec ExecContext, args map[string]any) (string, error)

type funcEntry struct {
	op types.Operation
	fn Handler
}

// FuncExecutor runs operations implemented as Go functions in-process.
// The zero value is not usable; create instances with [NewFuncExecutor].
// Safe for concurrent use.
type FuncExecutor struct {
	mu  sync.RWMutex
	ops map[string]funcEntry
}

var _ Executor = (*FuncExecutor)(nil)

// NewFuncExecutor returns an empty executor ready for [FuncExecutor.Register].
func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{ops: make(map[string]funcEntry)}
}

// Register adds an operation. Registering a name twice replaces the earlier
// entry. Operations without a name or handler are ignored.
func (e *FuncExecutor) Register(op types.Operation, fn Handler) {
	if op.Name == "" || fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops[op.Name] = funcEntry{op: op, fn: fn}
}

// Operations returns the catalog of registered operations, sorted by name.
func (e *FuncExecutor) Operations() []types.Operation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Operation, 0, len(e.ops))
	for _, entry := range e.ops {
		out = append(out, entry.op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs each invocation against its registered handler. Unknown
// operations and handler failures become error results; Execute itself
// never fails.
func (e *FuncExecutor) Execute(ctx context.Context, ec ExecContext, invs []types.Invocation) ([]types.InvocationResult, error) {
	results := make([]types.InvocationResult, 0, len(invs))
	for _, inv := range invs {
		res := types.InvocationResult{ID: inv.ID, Name: inv.Name}

		e.mu.RLock()
		entry, ok := e.ops[inv.Name]
		e.mu.RUnlock()

		if !ok {
			res.Error = fmt.Sprintf("unknown operation %q", inv.Name)
			results = append(results, res)
			continue
		}

		out, err := entry.fn(ctx, ec, inv.Arguments)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Content = out
		}
		results = append(results, res)
	}
	return results, nil
}
