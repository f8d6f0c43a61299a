package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CallError is the typed failure returned by transports. It preserves enough
// structure for the governor's retry classifier and the router's aggregate
// error report.
type CallError struct {
	// Provider is the vendor name the transport was registered under.
	Provider string

	// Model is the model identifier the call targeted.
	Model string

	// StatusCode is the HTTP status when the vendor reported one, else 0.
	StatusCode int

	// Message is the vendor's failure description.
	Message string

	// Timeout marks deadline expiry. Timeouts are never retried.
	Timeout bool

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s/%s: status %d: %s", e.Provider, e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Provider, e.Model, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *CallError) Unwrap() error { return e.Err }

// Rate-limit markers scanned case-insensitively when no status code is
// available. Vendors phrase throttling rejections inconsistently.
var rateLimitMarkers = []string{"too many requests", "rate limit", "429"}

// IsRateLimited reports whether err represents a rate-limited rejection:
// either a *CallError carrying HTTP 429 or any error whose message contains
// a known throttling marker. Only these failures are worth retrying; the
// governor uses this as its default retry classifier.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.StatusCode == 429 {
			return true
		}
		if ce.Timeout {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err represents a deadline expiry, either from a
// context or flagged by the transport itself.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *CallError
	return errors.As(err, &ce) && ce.Timeout
}
