// Package session implements the orchestration loop that drives a
// conversation to completion: call the model through the router, extract
// command invocations from the raw text, execute them as one batch, feed the
// results back as a synthetic turn, and repeat until the model answers
// without invoking anything or the iteration ceiling is reached.
//
// The loop is sequential per session and provably terminating: extraction is
// heuristic, so a misbehaving model could request operations forever; the
// ceiling bounds wall-clock time regardless of model behaviour, and hitting
// it returns a fixed fallback answer as a normal, non-error termination.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewmatch/coxswain/internal/command"
	"github.com/crewmatch/coxswain/internal/observe"
	"github.com/crewmatch/coxswain/internal/router"
	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/pkg/types"
)

const (
	// DefaultMaxIterations bounds a session when the request does not say
	// otherwise. Valid configured values are [3, 10].
	DefaultMaxIterations = 5

	// DefaultFallbackMessage is returned when a session hits its ceiling
	// and the request carries no override.
	DefaultFallbackMessage = "I couldn't complete this request within the allowed number of steps. " +
		"Please try again, or rephrase the request so it needs fewer operations."
)

// State names a position in the session state machine.
type State int

const (
	StateAwaitingResponse State = iota
	StateParsing
	StateExecuting
	StateAppending
	StateDone
	StateExhausted
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateParsing:
		return "PARSING"
	case StateExecuting:
		return "EXECUTING"
	case StateAppending:
		return "APPENDING"
	case StateDone:
		return "DONE"
	case StateExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// ModelCaller is the routing dependency of the loop: one resolved,
// governed model call per iteration. *router.Router satisfies it.
type ModelCaller interface {
	Call(ctx context.Context, useCase, prompt string, opts ...router.CallOption) (*router.Result, error)
}

// Request describes one session to run.
type Request struct {
	// SystemPrompt frames the whole conversation. May be empty.
	SystemPrompt string

	// History is the conversation so far, including the user message that
	// triggered this session.
	History []types.Turn

	// Catalog lists the operations offered to the model. An empty catalog
	// omits the operations block from prompts entirely.
	Catalog []types.Operation

	// Executor runs each iteration's invocation batch. May be nil when
	// Catalog is empty; invocations without an executor become error
	// results.
	Executor tools.Executor

	// UseCase selects the routing chain for every model call.
	UseCase string

	// ConversationID identifies the conversation for executors and logs.
	ConversationID string

	// Caller identifies who the session runs on behalf of.
	Caller tools.Caller

	// MaxIterations overrides the loop ceiling. Zero means
	// [DefaultMaxIterations]. Callers fill this from the current config
	// snapshot per message, so tuning changes apply without rebuilding
	// the Runner.
	MaxIterations int

	// FallbackMessage overrides the answer returned at the ceiling.
	// Empty means [DefaultFallbackMessage].
	FallbackMessage string
}

// TurnRecord captures one loop iteration for the caller's audit log.
type TurnRecord struct {
	// Prompt is the full flattened text sent to the model.
	Prompt string

	// RawText is the model's unprocessed response.
	RawText string

	// Invocations are the commands extracted from RawText, after catalog
	// name resolution.
	Invocations []types.Invocation

	// Results are the outcomes fed back to the model. Nil on the final
	// iteration.
	Results []types.InvocationResult
}

// Result is the outcome of a completed session.
type Result struct {
	// FinalText is the user-facing answer: the last iteration's narrative,
	// or the fallback message when Exhausted.
	FinalText string

	// Invocations accumulates every command across all iterations.
	Invocations []types.Invocation

	// Results accumulates every execution outcome across all iterations.
	Results []types.InvocationResult

	// Turns records each iteration in order.
	Turns []TurnRecord

	// Exhausted reports whether the session hit its iteration ceiling.
	Exhausted bool
}

// Runner drives orchestration sessions. Safe for concurrent use; each
// session's state lives on the stack of its RunSession call.
type Runner struct {
	model   ModelCaller
	extract *command.Extractor
	metrics *observe.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics overrides the metrics instance (used by tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner. A nil extractor gets a default one.
func New(model ModelCaller, extractor *command.Extractor, opts ...Option) *Runner {
	r := &Runner{model: model, extract: extractor}
	for _, opt := range opts {
		opt(r)
	}
	if r.extract == nil {
		r.extract = command.New()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// RunSession drives req to completion and returns the final answer together
// with the accumulated invocation/result log. An error is returned only when
// a model call fails outright (every candidate exhausted or the context
// cancelled); tool failures and the iteration ceiling are normal outcomes.
func (r *Runner) RunSession(ctx context.Context, req Request) (*Result, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	fallback := req.FallbackMessage
	if fallback == "" {
		fallback = DefaultFallbackMessage
	}

	r.metrics.ActiveSessions.Add(ctx, 1)
	defer r.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("session started",
		"conversation", req.ConversationID,
		"use_case", req.UseCase,
		"operations", len(req.Catalog),
		"max_iterations", maxIter,
	)

	conversation := make([]types.Turn, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		conversation = append(conversation, types.Turn{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	conversation = append(conversation, req.History...)

	opsBlock := operationsBlock(req.Catalog)
	ec := tools.ExecContext{
		ConversationID: req.ConversationID,
		CallerID:       req.Caller.ID,
		Roles:          req.Caller.Roles,
	}

	out := &Result{}

	for iter := 1; iter <= maxIter; iter++ {
		transition(StateAwaitingResponse, iter)
		prompt := flatten(conversation) + opsBlock

		res, err := r.model.Call(ctx, req.UseCase, prompt)
		if err != nil {
			return nil, fmt.Errorf("session: model call failed on iteration %d: %w", iter, err)
		}

		transition(StateParsing, iter)
		ext := r.extract.Extract(res.Text)
		resolveNames(req.Catalog, ext.Invocations)

		rec := TurnRecord{Prompt: prompt, RawText: res.Text, Invocations: ext.Invocations}

		if len(ext.Invocations) == 0 {
			transition(StateDone, iter)
			out.Turns = append(out.Turns, rec)
			out.FinalText = ext.Narrative
			slog.Info("session done",
				"conversation", req.ConversationID,
				"iterations", iter,
				"invocations", len(out.Invocations),
			)
			return out, nil
		}

		transition(StateExecuting, iter)
		conversation = append(conversation, types.Turn{Role: types.RoleAssistant, Content: res.Text})
		results := r.executeBatch(ctx, req.Executor, ec, ext.Invocations)

		transition(StateAppending, iter)
		conversation = append(conversation, resultsTurn(results))

		rec.Results = results
		out.Turns = append(out.Turns, rec)
		out.Invocations = append(out.Invocations, ext.Invocations...)
		out.Results = append(out.Results, results...)
	}

	transition(StateExhausted, maxIter)
	r.metrics.SessionsExhausted.Add(ctx, 1)
	slog.Warn("session hit iteration ceiling",
		"conversation", req.ConversationID,
		"iterations", maxIter,
		"invocations", len(out.Invocations),
	)
	out.FinalText = fallback
	out.Exhausted = true
	return out, nil
}

// transition logs a state-machine step at debug level.
func transition(s State, iter int) {
	slog.Debug("session state", "state", s, "iteration", iter)
}

// executeBatch hands the full, unfiltered invocation batch to the executor
// in one call and normalises every failure mode into error-string results:
// a nil executor, a batch-level error, or per-invocation errors all come
// back as results the loop can feed to the model.
func (r *Runner) executeBatch(ctx context.Context, exec tools.Executor, ec tools.ExecContext, invs []types.Invocation) []types.InvocationResult {
	if exec == nil {
		results := make([]types.InvocationResult, 0, len(invs))
		for _, inv := range invs {
			results = append(results, types.InvocationResult{
				ID: inv.ID, Name: inv.Name, Error: "no tool executor configured",
			})
		}
		return results
	}

	start := time.Now()
	results, err := exec.Execute(ctx, ec, invs)
	r.metrics.ToolDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		slog.Warn("tool batch failed", "conversation", ec.ConversationID, "error", err)
		results = make([]types.InvocationResult, 0, len(invs))
		for _, inv := range invs {
			results = append(results, types.InvocationResult{
				ID: inv.ID, Name: inv.Name, Error: err.Error(),
			})
		}
	}

	for _, res := range results {
		status := "ok"
		if res.Error != "" {
			status = "error"
		}
		r.metrics.RecordToolCall(ctx, res.Name, status)
	}
	return results
}
