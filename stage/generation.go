package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/domstage/gate"
	"github.com/hazyhaar/domstage/selector"
	"github.com/hazyhaar/domstage/session"
	"github.com/hazyhaar/domstage/stage/internal/prompt"
)

// SetMode declares the execution mode for subsequent attempts. Repository
// mode requires a repository descriptor at preparation time.
func (s *Stage) SetMode(mode session.Mode, repository string) {
	s.mu.Lock()
	s.mode = mode
	s.repository = repository
	s.mu.Unlock()
}

// SetNotes attaches free-form user instructions to subsequent attempts.
func (s *Stage) SetNotes(notes string) {
	s.mu.Lock()
	s.notes = notes
	s.mu.Unlock()
}

// SetAcknowledged records whether the user accepted the instability of
// low-confidence selectors. The acknowledgment is consumed per attempt,
// not remembered across a changed patch set: capture resets it.
func (s *Stage) SetAcknowledged(v bool) {
	s.mu.Lock()
	s.acknowledged = v
	s.mu.Unlock()
}

// Connect persists credentials and brings the session up.
func (s *Stage) Connect(ctx context.Context, creds session.Credentials) error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Connect(ctx, creds)
}

// Disconnect revokes credentials.
func (s *Stage) Disconnect(ctx context.Context) error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Disconnect(ctx)
}

// Restore brings the session up from persisted credentials, if any.
func (s *Stage) Restore(ctx context.Context) error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Restore(ctx)
}

// PrepareGeneration assembles the export artifact and the provider
// payload, then runs the admission gates. The gate outcome lands in the
// session snapshot: ready on admission, failed with the aggregate reason
// otherwise.
func (s *Stage) PrepareGeneration(ctx context.Context) error {
	if s.machine == nil {
		return ErrNoMachine
	}

	artifact, err := s.BuildExport(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("stage: encode artifact: %w", err)
	}

	s.mu.Lock()
	mode := s.mode
	repository := s.repository
	notes := s.notes
	acknowledged := s.acknowledged
	selected := ""
	if s.target != nil {
		selected = s.target.Selector
	}
	s.mu.Unlock()

	var targetHTML string
	if src, ok := s.doc.(HTMLSource); ok && selected != "" {
		if h, err := src.OuterHTML(ctx, selected); err == nil {
			targetHTML = h
		}
	}

	payload, err := s.prompt.Build(prompt.Input{
		Artifact:   artifact,
		TargetHTML: targetHTML,
		Notes:      notes,
		Repository: repository,
	})
	if err != nil {
		return err
	}

	confidences := make([]selector.Confidence, 0, len(artifact.Patches))
	for _, p := range artifact.Patches {
		confidences = append(confidences, p.SelectorConfidence)
	}

	in := gate.Input{
		Payload:        raw,
		PatchCount:     len(artifact.Patches),
		Confidences:    confidences,
		Warnings:       artifact.Warnings,
		Acknowledged:   acknowledged,
		RepositoryMode: mode == session.ModeRepository,
		Repository:     repository,
	}
	ec := &session.Context{
		Mode:         mode,
		Payload:      []byte(payload),
		Notes:        notes,
		Repository:   repository,
		Acknowledged: acknowledged,
	}
	return s.machine.Prepare(ctx, ec, in)
}

// StartGeneration launches the prepared attempt.
func (s *Stage) StartGeneration(ctx context.Context) error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Start(ctx)
}

// CancelGeneration aborts an in-flight attempt or backs out of a
// prepared one.
func (s *Stage) CancelGeneration() error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Cancel()
}

// ConfirmResponse accepts the reviewed response.
func (s *Stage) ConfirmResponse() error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Confirm()
}

// DismissResponse discards the reviewed response.
func (s *Stage) DismissResponse() error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Dismiss()
}

// RegenerateResponse discards the response but keeps the attempt context.
func (s *Stage) RegenerateResponse() error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Regenerate()
}

// AcknowledgeOutcome clears a terminal session state back to idle.
func (s *Stage) AcknowledgeOutcome() error {
	if s.machine == nil {
		return ErrNoMachine
	}
	return s.machine.Acknowledge()
}

// Session returns the current session snapshot, or a zero snapshot when
// no machine is configured.
func (s *Stage) Session() session.Snapshot {
	if s.machine == nil {
		return session.Snapshot{State: session.StateDisconnected}
	}
	return s.machine.Snapshot()
}

// Subscribe registers a session listener; the returned function removes
// it. A nil machine yields a no-op.
func (s *Stage) Subscribe(fn func(session.Snapshot)) func() {
	if s.machine == nil {
		return func() {}
	}
	return s.machine.Subscribe(fn)
}
