// Package provider defines the Transport interface for language model backends.
//
// A transport wraps one vendor's remote or local completion API (OpenAI,
// Anthropic, Gemini, a local Ollama instance, ...) and exposes a uniform
// prompt-in, text-out surface for the router. Transports carry no fallback,
// throttling, or retry behaviour of their own; those concerns belong to the
// router and the governor that sit above them.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package provider

import "context"

// Request carries everything a transport needs for one model call.
// Callers should treat a zero-value request as invalid; at minimum Model and
// Prompt must be non-empty.
type Request struct {
	// Model is the vendor-specific model identifier (e.g. "gpt-4o-mini").
	Model string

	// Prompt is the fully rendered prompt text. Transports that speak a
	// message-list protocol send it as a single user message.
	Prompt string

	// System is an optional instruction injected ahead of the prompt.
	// Transports without a dedicated system channel prepend it to Prompt.
	System string

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the completion size. Zero means the vendor default.
	MaxTokens int

	// Images holds optional image payloads (raw encoded bytes) for
	// vision-capable models. Transports that cannot attach images must
	// return an error when Images is non-empty rather than drop them.
	Images [][]byte
}

// Transport is the abstraction over any single model vendor.
//
// Call sends req to the named model and returns the raw response text.
// An empty response with a nil error is valid at this layer; the router is
// responsible for treating it as a failure. Failures should be returned as
// *CallError so callers can classify them.
type Transport interface {
	Call(ctx context.Context, req Request) (string, error)
}
