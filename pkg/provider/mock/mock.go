// Package mock provides a test double for the provider.Transport interface.
//
// Use Transport in unit tests to verify that the router sends correct
// requests and to feed controlled responses without a live model backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	t := &mock.Transport{Text: "Hello!"}
//	text, err := t.Call(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/crewmatch/coxswain/pkg/provider"
)

// Call records a single invocation of Call.
type Call struct {
	// Ctx is the context passed to Call.
	Ctx context.Context
	// Req is the request passed to Call.
	Req provider.Request
}

// Outcome is one scripted result.
type Outcome struct {
	// Text is the response text to return.
	Text string
	// Err, if non-nil, is returned instead of Text.
	Err error
}

// Transport is a mock implementation of provider.Transport.
// Zero values cause Call to return "", nil. Set Err to inject a constant
// failure, or Script to play back a per-call sequence of outcomes.
type Transport struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Text is returned by Call when no Script entry applies.
	Text string

	// Err, if non-nil, is returned by Call when no Script entry applies.
	Err error

	// Script, when non-empty, supplies outcomes one per call in order.
	// Calls beyond the last entry fall back to Text/Err.
	Script []Outcome

	// CallFunc, if set, overrides all other response fields. Useful for
	// blocking or latency-sensitive tests.
	CallFunc func(ctx context.Context, req provider.Request) (string, error)

	// --- Call records (read after test) ---

	// Calls records every invocation of Call in order.
	Calls []Call
}

// Call records the invocation and returns the next scripted outcome.
func (t *Transport) Call(ctx context.Context, req provider.Request) (string, error) {
	t.mu.Lock()
	n := len(t.Calls)
	t.Calls = append(t.Calls, Call{Ctx: ctx, Req: req})
	fn := t.CallFunc
	text, err := t.Text, t.Err
	if n < len(t.Script) {
		text, err = t.Script[n].Text, t.Script[n].Err
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return text, err
}

// CallCount returns the number of recorded calls. Thread-safe.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transport implements provider.Transport at compile time.
var _ provider.Transport = (*Transport)(nil)
