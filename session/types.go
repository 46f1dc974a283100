// Package session implements the guarded execution state machine that
// sequences connect → prepare → generate → review → confirm/abort/fail.
// All transitions are applied synchronously and atomically; any transition
// attempted from an incompatible state is rejected and logged rather than
// silently coerced. The one true asynchronous operation, the outbound
// generation call, is owned by the machine for the lifetime of a single
// attempt through a dedicated cancellation handle.
package session

import (
	"context"
	"time"
)

// State tags the machine's current position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "connected_idle"
	StateReady        State = "ready"
	StateGenerating   State = "generating"
	StateReview       State = "review_required"
	StateConfirmed    State = "confirmed"
	StateAborted      State = "aborted"
	StateFailed       State = "failed"
)

// Connected reports whether the machine holds credentials, i.e. is in any
// state other than disconnected.
func (s State) Connected() bool { return s != StateDisconnected }

// Terminal reports whether the state can only be left through an explicit
// acknowledgment.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateAborted, StateFailed:
		return true
	}
	return false
}

// Mode is the execution mode of one generation attempt.
type Mode string

const (
	// ModeStandalone hands the artifact off without repository context.
	ModeStandalone Mode = "standalone"
	// ModeRepository declares that a source repository is available and a
	// descriptor for it must accompany the attempt.
	ModeRepository Mode = "repository"
)

// Context is the execution context of a single generation attempt. It is
// created fresh per attempt, owned exclusively by the machine for the
// attempt's duration, and discarded on return to idle.
type Context struct {
	Mode         Mode   `json:"mode"`
	Payload      []byte `json:"payload"` // assembled provider payload
	Notes        string `json:"notes,omitempty"`
	Repository   string `json:"repository,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
}

func (c *Context) clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Payload = append([]byte(nil), c.Payload...)
	return &cp
}

// Credentials identify the generation provider account.
type Credentials struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Invalid  bool   `json:"invalid"`
}

// CredentialStore persists credentials across runs. Implementations are
// keyed by two fixed names: the current credentials and the last-used
// provider.
type CredentialStore interface {
	Save(ctx context.Context, creds *Credentials) error
	Load(ctx context.Context) (*Credentials, error)
	// MarkInvalid flips the persisted invalid flag so subsequent
	// connection attempts are blocked until credentials are re-supplied.
	MarkInvalid(ctx context.Context) error
}

// Request is the opaque generation call input.
type Request struct {
	Credentials Credentials
	System      string // system instructions
	Payload     []byte // user payload (the export artifact plus prompt context)
	Timeout     time.Duration
}

// Response is a successful generation result.
type Response struct {
	Text  string
	Model string
}

// Provider is the outbound generation call. The machine treats it as
// opaque: it must honor ctx cancellation and may return a *Failure to
// classify its errors; anything else is mapped to the network category.
type Provider func(ctx context.Context, req Request) (*Response, error)

// Snapshot is an immutable copy of the machine's state record. Listeners
// and callers receive snapshots, never the live record. The API key is
// redacted; only its presence is observable.
type Snapshot struct {
	State       State
	Credentials *Credentials // nil when disconnected; APIKey blanked
	Context     *Context     // nil outside an attempt
	Response    *Response    // nil until review
	Err         *Failure     // nil unless failed/aborted
}
