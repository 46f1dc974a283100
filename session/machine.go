package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domstage/gate"
)

// Machine is the execution state machine. Exactly one instance owns the
// execution state record; every public operation, listener notification
// included, runs to completion before returning, so no two
// transitions ever interleave.
type Machine struct {
	// opMu serializes whole operations, notification included.
	opMu sync.Mutex
	// mu guards the record fields for snapshot reads.
	mu       sync.Mutex
	state    State
	creds    *Credentials
	attempt  uint64
	ctxData  *Context
	response *Response
	failure  *Failure
	cancel   context.CancelFunc

	store    CredentialStore
	provider Provider
	system   string
	timeout  time.Duration

	lmu       sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int

	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithTimeout sets the per-attempt generation timeout handed to the
// provider. Default: 120s.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) { m.timeout = d }
}

// WithSystemInstructions sets the system instructions handed to the
// provider on every attempt.
func WithSystemInstructions(s string) Option {
	return func(m *Machine) { m.system = s }
}

// New creates a Machine in the disconnected state.
func New(store CredentialStore, provider Provider, opts ...Option) *Machine {
	m := &Machine{
		state:     StateDisconnected,
		store:     store,
		provider:  provider,
		timeout:   120 * time.Second,
		listeners: make(map[int]func(Snapshot)),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers a listener invoked synchronously after every
// transition with an immutable snapshot. Listeners must not call
// transition operations; they may call Snapshot. The returned function
// unsubscribes.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

// Snapshot returns an immutable copy of the current record. External
// callers never observe a record they can mutate.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current state tag.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore loads persisted credentials at startup. Valid credentials move
// the machine to connected-idle; missing or invalidated ones leave it
// disconnected.
func (m *Machine) Restore(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.State(); s != StateDisconnected {
		return m.reject("restore", s)
	}
	creds, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("session: load credentials: %w", err)
	}
	if creds == nil || creds.Invalid {
		return nil
	}
	m.mu.Lock()
	c := *creds
	m.creds = &c
	m.state = StateIdle
	m.mu.Unlock()
	m.notify()
	return nil
}

// Connect persists credentials and moves to connected-idle. Persistence
// failure keeps the machine disconnected and records an auth-category
// failure in the state record.
func (m *Machine) Connect(ctx context.Context, creds Credentials) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.State(); s != StateDisconnected {
		return m.reject("connect", s)
	}

	if err := m.store.Save(ctx, &creds); err != nil {
		m.mu.Lock()
		m.failure = NewFailure(ErrAuth, "persist credentials: %v", err)
		m.mu.Unlock()
		m.notify()
		return nil
	}

	m.mu.Lock()
	c := creds
	m.creds = &c
	m.failure = nil
	m.state = StateIdle
	m.mu.Unlock()
	m.notify()
	return nil
}

// Disconnect revokes credentials from any connected state, cancelling an
// in-flight generation first.
func (m *Machine) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.State(); !s.Connected() {
		return m.reject("disconnect", s)
	}

	m.mu.Lock()
	m.invokeCancelLocked()
	m.creds = nil
	m.ctxData = nil
	m.response = nil
	m.failure = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	m.notify()
	return nil
}

// Prepare runs all six admission gates against a fresh execution context.
// On pass the machine moves to ready; on failure the failing gates'
// messages are joined into one gate-category failure and the machine moves
// to failed. The gate outcome is surfaced via the snapshot, not returned.
func (m *Machine) Prepare(ctx context.Context, ec *Context, in gate.Input) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.State(); s != StateIdle {
		return m.reject("prepare", s)
	}

	m.mu.Lock()
	in.HaveCredentials = m.creds != nil
	in.CredentialsInvalid = m.creds != nil && m.creds.Invalid
	in.Generating = m.state == StateGenerating
	m.mu.Unlock()

	results := gate.Evaluate(in)

	m.mu.Lock()
	if gate.Admitted(results) {
		m.ctxData = ec.clone()
		m.failure = nil
		m.state = StateReady
	} else {
		m.ctxData = nil
		m.failure = NewFailure(ErrGate, "%s", gate.FailureMessage(results))
		m.state = StateFailed
		m.logger.Warn("session: admission denied", "reason", m.failure.Message)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Start launches the generation attempt. A fresh cancellation handle is
// allocated for exactly this attempt; the provider call runs asynchronously
// and its completion re-enters the machine as a transition.
func (m *Machine) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if s := m.State(); s != StateReady {
		return m.reject("start", s)
	}

	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	req := Request{
		Credentials: *m.creds,
		System:      m.system,
		Payload:     append([]byte(nil), m.ctxData.Payload...),
		Timeout:     m.timeout,
	}
	m.state = StateGenerating
	m.mu.Unlock()
	m.notify()

	go m.run(cctx, attempt, req)
	return nil
}

func (m *Machine) run(ctx context.Context, attempt uint64, req Request) {
	resp, err := m.provider(ctx, req)
	m.finish(attempt, resp, err)
}

// finish applies the asynchronous completion of a generation attempt.
// Completions from a superseded or already-left generating state are
// dropped: an abort or disconnect has already transitioned away.
func (m *Machine) finish(attempt uint64, resp *Response, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateGenerating || attempt != m.attempt {
		m.mu.Unlock()
		m.logger.Debug("session: stale generation completion dropped", "attempt", attempt)
		return
	}

	m.invokeCancelLocked()

	if err != nil {
		f := classify(err)
		m.failure = f
		m.response = nil
		m.state = StateFailed
		m.mu.Unlock()

		if f.Code == ErrAuth {
			// Block the next connection attempt until re-authentication.
			if serr := m.store.MarkInvalid(context.Background()); serr != nil {
				m.logger.Error("session: mark credentials invalid", "error", serr)
			}
			m.mu.Lock()
			if m.creds != nil {
				m.creds.Invalid = true
			}
			m.mu.Unlock()
		}
		m.logger.Warn("session: generation failed", "code", f.Code, "message", f.Message)
		m.notify()
		return
	}

	m.response = resp
	m.failure = nil
	m.state = StateReview
	m.mu.Unlock()
	m.notify()
}

// Cancel aborts an in-flight generation (generating → aborted) or backs
// out of a prepared attempt (ready → connected-idle).
func (m *Machine) Cancel() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateGenerating:
		m.invokeCancelLocked()
		m.response = nil
		m.failure = NewFailure(ErrAborted, "generation aborted by user")
		m.state = StateAborted
	case StateReady:
		m.ctxData = nil
		m.state = StateIdle
	default:
		s := m.state
		m.mu.Unlock()
		return m.reject("cancel", s)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Confirm accepts a reviewed response. The response stays visible to the
// caller until acknowledged.
func (m *Machine) Confirm() error {
	return m.simple("confirm", StateReview, func() {
		m.state = StateConfirmed
	})
}

// Dismiss discards a reviewed response and returns to connected-idle.
func (m *Machine) Dismiss() error {
	return m.simple("dismiss", StateReview, func() {
		m.ctxData = nil
		m.response = nil
		m.state = StateIdle
	})
}

// Regenerate discards the response but keeps the execution context so the
// attempt can be started again.
func (m *Machine) Regenerate() error {
	return m.simple("regenerate", StateReview, func() {
		m.response = nil
		m.state = StateReady
	})
}

// Acknowledge is the only action that clears a terminal-ish state (failed,
// aborted, confirmed, or a prepared-but-unstarted ready) back to idle.
func (m *Machine) Acknowledge() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateFailed, StateAborted, StateConfirmed, StateReady:
		m.ctxData = nil
		m.response = nil
		m.failure = nil
		m.state = StateIdle
	default:
		s := m.state
		m.mu.Unlock()
		return m.reject("acknowledge", s)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// simple runs a transition legal from exactly one state.
func (m *Machine) simple(op string, from State, apply func()) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != from {
		s := m.state
		m.mu.Unlock()
		return m.reject(op, s)
	}
	apply()
	m.mu.Unlock()
	m.notify()
	return nil
}

// invokeCancelLocked invokes and clears the cancellation handle. Clearing
// immediately after use prevents double invocation; calling it with no
// handle is a no-op, so cancellation is idempotent.
func (m *Machine) invokeCancelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Machine) reject(op string, s State) error {
	m.logger.Warn("session: transition rejected", "op", op, "state", s)
	return fmt.Errorf("session: %s from %s: %w", op, s, ErrInvalidTransition)
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state}
	if m.creds != nil {
		c := *m.creds
		c.APIKey = ""
		snap.Credentials = &c
	}
	snap.Context = m.ctxData.clone()
	if m.response != nil {
		r := *m.response
		snap.Response = &r
	}
	if m.failure != nil {
		f := *m.failure
		snap.Err = &f
	}
	return snap
}

func (m *Machine) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
