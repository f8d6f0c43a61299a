package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse marks a call that returned HTTP success but no usable
// text. The candidate is charged a failure and the chain advances.
var ErrEmptyResponse = errors.New("empty response")

// AttemptFailure records one failed candidate of an exhausted routing chain.
type AttemptFailure struct {
	Provider string
	Model    string
	Err      error
}

// ExhaustedError is returned when every candidate in a routing plan has been
// tried and failed. Failures appear in attempt order so the message reads as
// a chronicle of the chain. Candidates skipped for missing credentials are
// listed separately; they were never called.
type ExhaustedError struct {
	UseCase  string
	Failures []AttemptFailure
	Skipped  []string
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("router: no callable candidates for use case %q (skipped: %s)",
			e.UseCase, strings.Join(e.Skipped, ", "))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "router: all %d candidates failed for use case %q", len(e.Failures), e.UseCase)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s/%s: %v", f.Provider, f.Model, f.Err)
	}
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, " (skipped: %s)", strings.Join(e.Skipped, ", "))
	}
	return b.String()
}

// Unwrap exposes every per-candidate error so errors.Is and errors.As reach
// through the aggregate.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
