// Package anyllm provides a universal transport backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Unlike a vendor SDK wrapper, one Transport serves every model of its vendor;
// the model identifier travels in each provider.Request so the router can walk
// a model list without reconstructing clients.
//
// Usage:
//
//	t, err := anyllm.New("openai", anyllmlib.WithAPIKey("sk-..."))
//	t, err := anyllm.New("ollama", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/crewmatch/coxswain/pkg/provider"
)

// Transport implements provider.Transport by wrapping any-llm-go.
type Transport struct {
	backend  anyllmlib.Provider
	provider string
}

var _ provider.Transport = (*Transport)(nil)

// New creates a Transport for the named vendor.
//
// name is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g. anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// the vendor's environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(name string, opts ...anyllmlib.Option) (*Transport, error) {
	if name == "" {
		return nil, fmt.Errorf("anyllm: provider name must not be empty")
	}
	backend, err := createBackend(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Transport{backend: backend, provider: strings.ToLower(name)}, nil
}

// Supported returns the vendor names this package can construct, in a stable
// order. Configuration validation uses it for its suggestions.
func Supported() []string {
	return []string{
		"openai", "anthropic", "gemini", "ollama", "deepseek",
		"mistral", "groq", "llamacpp", "llamafile",
	}
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s",
			name, strings.Join(Supported(), ", "))
	}
}

// Call implements provider.Transport.
func (t *Transport) Call(ctx context.Context, req provider.Request) (string, error) {
	if req.Model == "" {
		return "", &provider.CallError{Provider: t.provider, Message: "model must not be empty"}
	}
	if len(req.Images) > 0 {
		return "", &provider.CallError{
			Provider: t.provider,
			Model:    req.Model,
			Message:  "image payloads are not supported; use the native openai transport",
		}
	}

	var messages []anyllmlib.Message
	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Prompt,
	})

	params := anyllmlib.CompletionParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		temp := req.Temperature
		params.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	resp, err := t.backend.Completion(ctx, params)
	if err != nil {
		return "", t.wrapErr(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", &provider.CallError{
			Provider: t.provider,
			Model:    req.Model,
			Message:  "empty choices in response",
		}
	}
	// An empty content string is a valid transport result; the router decides
	// whether to treat it as a failed attempt.
	return resp.Choices[0].Message.ContentString(), nil
}

// statusPattern recovers an HTTP status from vendor error strings such as
// "status code 429" or "HTTP 503".
var statusPattern = regexp.MustCompile(`(?i)(?:status(?: code)?|http)[: ]+(\d{3})`)

// wrapErr converts a backend failure into a *provider.CallError, preserving
// the status code and timeout classification where they can be recovered.
func (t *Transport) wrapErr(model string, err error) error {
	ce := &provider.CallError{
		Provider: t.provider,
		Model:    model,
		Message:  err.Error(),
		Err:      err,
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ce.Timeout = true
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			ce.StatusCode = code
		}
	}
	return ce
}
