// Package types defines the shared types used across all coxswain packages.
//
// These types form the lingua franca between transports, the router, the
// command extractor, and the session loop. They are intentionally minimal:
// each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// Conversation roles. Turns carry exactly one of these.
const (
	// RoleSystem marks the instruction turn that frames the whole session.
	RoleSystem = "system"

	// RoleUser marks a turn authored by the human participant.
	RoleUser = "user"

	// RoleAssistant marks a turn produced by a model.
	RoleAssistant = "assistant"

	// RoleTool marks a synthetic turn carrying serialized tool results.
	RoleTool = "tool"
)

// Turn is a single entry in a conversation history.
type Turn struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant, or RoleTool.
	Role string `json:"role"`

	// Content is the text content of the turn.
	Content string `json:"content"`
}

// Invocation is one command recovered from model output, normalized
// regardless of which textual convention carried it.
type Invocation struct {
	// ID uniquely identifies this invocation within the process.
	ID string `json:"id"`

	// Name is the operation being invoked.
	Name string `json:"name"`

	// Arguments is the invocation's argument bag. Never nil; an
	// invocation without arguments carries an empty map.
	Arguments map[string]any `json:"arguments"`
}

// InvocationResult is the outcome of executing one Invocation.
type InvocationResult struct {
	// ID matches the Invocation that produced this result.
	ID string `json:"id"`

	// Name is the operation that was invoked.
	Name string `json:"name"`

	// Content is the successful result payload, if any.
	Content string `json:"content,omitempty"`

	// Error is the failure description when execution failed. A non-empty
	// Error never halts a session; it is fed back to the model verbatim.
	Error string `json:"error,omitempty"`
}

// Operation describes one entry of the operations catalog offered to the
// model during a session.
type Operation struct {
	// Name is the operation's unique identifier.
	Name string

	// Description explains what the operation does (included in prompts).
	Description string

	// Parameters is the JSON Schema describing the operation's arguments.
	// May be nil for operations that take none.
	Parameters map[string]any
}
