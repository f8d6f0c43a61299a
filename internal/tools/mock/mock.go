// Package mock provides a recording test double for the [tools.Executor]
// interface.
//
// [Executor] records every batch it receives and exposes exported fields that
// control what it returns. When nothing is configured it fabricates one empty
// success result per invocation, so the order contract holds by construction.
//
// Typical usage:
//
//	exec := &mock.Executor{
//	    Results: []types.InvocationResult{{ID: "cmd-1", Name: "get_weather", Content: "sunny"}},
//	}
//
//	// inject exec into the system under test …
//
//	if exec.CallCount() != 1 {
//	    t.Errorf("expected 1 Execute call, got %d", exec.CallCount())
//	}
package mock

import (
	"context"
	"sync"

	"github.com/crewmatch/coxswain/internal/tools"
	"github.com/crewmatch/coxswain/pkg/types"
)

// Call records the arguments of a single Execute invocation.
type Call struct {
	Ctx  context.Context
	EC   tools.ExecContext
	Invs []types.Invocation
}

// Executor is a configurable test double for [tools.Executor].
type Executor struct {
	mu sync.Mutex

	// Calls records every Execute invocation in order.
	Calls []Call

	// Results is returned by Execute when non-nil and ExecuteFunc is nil.
	Results []types.InvocationResult

	// Err is returned by Execute when non-nil (batch-level failure).
	Err error

	// ExecuteFunc, when non-nil, fully replaces the canned behaviour.
	ExecuteFunc func(ctx context.Context, ec tools.ExecContext, invs []types.Invocation) ([]types.InvocationResult, error)

	// Ops is returned by Operations, letting the mock stand in for
	// catalog-aware executors such as mux children.
	Ops []types.Operation
}

var _ tools.CatalogedExecutor = (*Executor)(nil)

// Execute implements [tools.Executor].
func (e *Executor) Execute(ctx context.Context, ec tools.ExecContext, invs []types.Invocation) ([]types.InvocationResult, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Ctx: ctx, EC: ec, Invs: invs})
	fn := e.ExecuteFunc
	canned := e.Results
	err := e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, ec, invs)
	}
	if err != nil {
		return nil, err
	}
	if canned != nil {
		out := make([]types.InvocationResult, len(canned))
		copy(out, canned)
		return out, nil
	}

	out := make([]types.InvocationResult, 0, len(invs))
	for _, inv := range invs {
		out = append(out, types.InvocationResult{ID: inv.ID, Name: inv.Name})
	}
	return out, nil
}

// Operations returns the configured catalog.
func (e *Executor) Operations() []types.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Operation, len(e.Ops))
	copy(out, e.Ops)
	return out
}

// CallCount returns how many times Execute was invoked.
func (e *Executor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Reset clears recorded calls without altering response configuration.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}
