package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies everything that can go wrong between a generation
// request and its outcome.
type ErrorCode string

const (
	ErrGate      ErrorCode = "gate_failed"
	ErrNetwork   ErrorCode = "network"
	ErrAuth      ErrorCode = "auth"
	ErrRateLimit ErrorCode = "rate_limit"
	ErrUpstream  ErrorCode = "upstream"
	ErrTimeout   ErrorCode = "timeout"
	ErrMalformed ErrorCode = "malformed_response"
	ErrAborted   ErrorCode = "aborted"
)

// Failure pairs a machine-readable code with a short human-readable
// message. Failures are captured into the state record and surfaced via
// snapshots, never thrown across the public transition API. Silent
// failure is disallowed: a caller that cannot proceed always gets a reason.
type Failure struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// NewFailure builds a classified failure.
func NewFailure(code ErrorCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify maps an arbitrary provider error onto the taxonomy. Providers
// that already return a *Failure keep their classification; context
// deadline becomes a timeout; anything else is a network-category failure.
func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(ErrTimeout, "generation timed out")
	}
	if errors.Is(err, context.Canceled) {
		return NewFailure(ErrAborted, "generation cancelled")
	}
	return NewFailure(ErrNetwork, "generation call failed: %v", err)
}

// ErrInvalidTransition is wrapped by every rejected transition. The machine
// logs the rejection and leaves its state untouched; the sentinel lets
// callers distinguish a programming error from a classified failure.
var ErrInvalidTransition = errors.New("invalid transition")
