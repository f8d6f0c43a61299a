// Package router resolves use cases to provider/model chains and walks each
// chain until one candidate answers. Ordering and sampling come from the
// active configuration; throttling and retry of individual calls are the
// governor's job. The router's own job is purely positional: skip candidates
// it cannot call, advance past candidates that fail, and report everything it
// tried when nothing worked.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crewmatch/coxswain/internal/config"
	"github.com/crewmatch/coxswain/internal/governor"
	"github.com/crewmatch/coxswain/internal/observe"
	"github.com/crewmatch/coxswain/pkg/provider"
)

// Result is a successful model response, tagged with the candidate that
// produced it.
type Result struct {
	Text     string
	Provider string
	Model    string
}

// Router fans a prompt across the resolved candidate chain for a use case.
// It is safe for concurrent use.
type Router struct {
	resolver   *config.Resolver
	transports map[string]provider.Transport
	metrics    *observe.Metrics

	mu  sync.RWMutex
	gov *governor.Governor
}

// Option configures a [Router].
type Option func(*Router)

// WithMetrics overrides the metrics sink. Mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a Router over the given transports. Providers present in the
// configuration but absent from transports are skipped at call time, which is
// how missing credentials degrade: silently, in favour of the next candidate.
func New(resolver *config.Resolver, transports map[string]provider.Transport, gov *governor.Governor, opts ...Option) *Router {
	r := &Router{
		resolver:   resolver,
		transports: transports,
		gov:        gov,
		metrics:    observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetGovernor swaps in a replacement governor, typically after a tuning
// reload. Calls already in flight finish on the governor they started with.
func (r *Router) SetGovernor(g *governor.Governor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gov = g
}

func (r *Router) activeGovernor() *governor.Governor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gov
}

// CallOption adjusts a single call. Per-call values take precedence over
// everything the configuration resolves.
type CallOption func(*callOptions)

type callOptions struct {
	system      string
	temperature *float64
	maxTokens   *int
	images      [][]byte
}

// WithSystem sets the system prompt for this call.
func WithSystem(system string) CallOption {
	return func(o *callOptions) {
		o.system = system
	}
}

// WithTemperature overrides the sampling temperature for this call.
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) {
		o.temperature = &t
	}
}

// WithMaxTokens overrides the completion cap for this call.
func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) {
		o.maxTokens = &n
	}
}

// WithImages attaches raw image payloads to the call. Only transports with
// multimodal support accept them; others fail the candidate and the chain
// moves on.
func WithImages(images [][]byte) CallOption {
	return func(o *callOptions) {
		o.images = images
	}
}

// Call resolves useCase to its candidate chain and tries each candidate in
// order until one returns usable text. A candidate without a transport is
// skipped. A candidate that errors, or answers with nothing but whitespace,
// is charged a failure and the chain advances. When the whole chain is spent
// the returned error is an [*ExhaustedError] enumerating every failure.
func (r *Router) Call(ctx context.Context, useCase, prompt string, opts ...CallOption) (*Result, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	plan, err := r.resolver.Resolve(useCase)
	if err != nil {
		return nil, err
	}

	exhausted := &ExhaustedError{UseCase: useCase}
	for _, at := range plan.Attempts {
		transport, ok := r.transports[at.Provider]
		if !ok {
			slog.Debug("no transport for provider; skipping candidate",
				"provider", at.Provider, "model", at.Model)
			exhausted.Skipped = append(exhausted.Skipped, at.Provider+"/"+at.Model)
			continue
		}

		req := buildRequest(at, prompt, co)
		key := at.Provider + ":" + at.Model

		start := time.Now()
		text, err := governor.Execute(ctx, r.activeGovernor(), key, func(ctx context.Context) (string, error) {
			return transport.Call(ctx, req)
		})
		seconds := time.Since(start).Seconds()

		if err != nil {
			r.metrics.RecordAttempt(ctx, at.Provider, at.Model, "error", seconds)
			exhausted.Failures = append(exhausted.Failures, AttemptFailure{
				Provider: at.Provider,
				Model:    at.Model,
				Err:      err,
			})
			if ctx.Err() != nil {
				// The caller is gone; further candidates would all fail
				// the same way.
				return nil, ctx.Err()
			}
			slog.Warn("candidate failed, trying next",
				"use_case", useCase, "provider", at.Provider, "model", at.Model, "error", err)
			continue
		}

		if strings.TrimSpace(text) == "" {
			r.metrics.RecordAttempt(ctx, at.Provider, at.Model, "empty", seconds)
			exhausted.Failures = append(exhausted.Failures, AttemptFailure{
				Provider: at.Provider,
				Model:    at.Model,
				Err:      ErrEmptyResponse,
			})
			slog.Warn("candidate returned an empty response, trying next",
				"use_case", useCase, "provider", at.Provider, "model", at.Model)
			continue
		}

		r.metrics.RecordAttempt(ctx, at.Provider, at.Model, "ok", seconds)
		return &Result{Text: text, Provider: at.Provider, Model: at.Model}, nil
	}

	slog.Error("candidate chain exhausted",
		"use_case", useCase, "failures", len(exhausted.Failures), "skipped", len(exhausted.Skipped))
	return nil, exhausted
}

// buildRequest assembles the transport request for one candidate, applying
// per-call overrides on top of the resolved plan values.
func buildRequest(at config.PlanAttempt, prompt string, co callOptions) provider.Request {
	req := provider.Request{
		Model:  at.Model,
		Prompt: prompt,
		System: co.system,
		Images: co.images,
	}

	temperature := co.temperature
	if temperature == nil {
		temperature = at.Temperature
	}
	if temperature != nil {
		req.Temperature = *temperature
	}

	maxTokens := co.maxTokens
	if maxTokens == nil {
		maxTokens = at.MaxTokens
	}
	if maxTokens != nil {
		req.MaxTokens = *maxTokens
	}
	return req
}
