// Package stage is the capture orchestrator. It wires a document adapter
// (live page or static snapshot), the patch history, the execution state
// machine, and artifact persistence into one facade, and exposes the
// staging operations over MCP, HTTP, and the connectivity router.
//
// Usage:
//
//	st := stage.New(doc, machine, stage.WithStore(artifacts))
//	st.SelectTarget(ctx, "#hero > h1")
//	st.Capture(ctx, "color", "red")
//	rec, artifact, err := st.Export(ctx)
//	st.RegisterMCP(mcpServer)
//	st.RegisterConnectivity(router)
package stage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domstage/export"
	"github.com/hazyhaar/domstage/identity"
	"github.com/hazyhaar/domstage/idgen"
	"github.com/hazyhaar/domstage/patch"
	"github.com/hazyhaar/domstage/selector"
	"github.com/hazyhaar/domstage/session"
	"github.com/hazyhaar/domstage/stage/internal/prompt"
	"github.com/hazyhaar/domstage/stage/internal/store"
)

// Document is the adapter view the stage needs of a page: resolution,
// fingerprinting, style reads, and selector synthesis. Both the rod-backed
// live adapter and the static snapshot adapter satisfy it.
type Document interface {
	URL() string
	Resolve(ctx context.Context, ref string) (selector.Status, int, error)
	Fingerprint(ctx context.Context, ref string) (identity.Fingerprint, bool, error)
	ReadStyle(ctx context.Context, ref, property string) (string, error)
	Synthesize(ctx context.Context, ref string) (string, error)
}

// HTMLSource is optionally implemented by documents that can hand out an
// element's outer HTML. When available, the selected target's markup is
// included as context in the provider payload.
type HTMLSource interface {
	OuterHTML(ctx context.Context, ref string) (string, error)
}

// StyleWriter is optionally implemented by documents whose styles can be
// written back, such as the live page adapter. When present, a capture
// applies the edit to the document, undo restores the recorded prior
// value, and redo re-applies the patch. Static snapshots stay read-only.
type StyleWriter interface {
	SetStyle(ctx context.Context, ref, property, value string) error
	ClearStyle(ctx context.Context, ref, property string) error
}

// Target describes the current selection and how it resolved.
type Target struct {
	Selector    string               `json:"selector"`
	Status      selector.Status      `json:"status"`
	MatchCount  int                  `json:"match_count"`
	Confidence  selector.Confidence  `json:"confidence,omitempty"`
	Fingerprint identity.Fingerprint `json:"fingerprint"`
}

// Unique reports whether the target resolved to exactly one element.
func (t *Target) Unique() bool {
	return t != nil && t.Status == selector.StatusUnique
}

// Stage orchestrates one capture session against one document.
type Stage struct {
	mu      sync.Mutex
	doc     Document
	machine *session.Machine
	history *patch.History
	store   *store.Store
	prompt  *prompt.Builder
	logger  *slog.Logger

	patchID    idgen.Generator
	artifactID idgen.Generator
	now        func() time.Time

	viewport     export.Viewport
	target       *Target
	mode         session.Mode
	repository   string
	notes        string
	acknowledged bool
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore enables artifact persistence.
func WithStore(st *store.Store) Option {
	return func(s *Stage) { s.store = st }
}

// WithHistoryCapacity bounds the undo history. Default:
// patch.DefaultCapacity.
func WithHistoryCapacity(n int) Option {
	return func(s *Stage) { s.history = patch.NewHistory(n) }
}

// WithViewport records the capture viewport stamped into exports.
func WithViewport(width, height int) Option {
	return func(s *Stage) { s.viewport = export.Viewport{Width: width, Height: height} }
}

// WithClock injects the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Stage) { s.now = now }
}

// New creates a Stage over a document. The machine may be nil when only
// capture and export are used (no generation lifecycle).
func New(doc Document, machine *session.Machine, opts ...Option) *Stage {
	s := &Stage{
		doc:        doc,
		machine:    machine,
		history:    patch.NewHistory(patch.DefaultCapacity),
		prompt:     prompt.NewBuilder(),
		logger:     slog.Default(),
		patchID:    idgen.Prefixed("pat_", idgen.Default),
		artifactID: idgen.Prefixed("art_", idgen.Default),
		now:        time.Now,
		viewport:   export.Viewport{Width: 1280, Height: 720},
		mode:       session.ModeStandalone,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SelectTarget resolves a reference and makes it the current target. A
// non-unique resolution is a normal outcome reported on the Target, not
// an error; the selection is recorded either way so the caller can refine
// it.
func (s *Stage) SelectTarget(ctx context.Context, ref string) (*Target, error) {
	status, matches, err := s.doc.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	t := &Target{Selector: ref, Status: status, MatchCount: matches}
	if status == selector.StatusUnique {
		t.Confidence = selector.Score(ref, matches)
		if fp, ok, err := s.doc.Fingerprint(ctx, ref); err == nil && ok {
			t.Fingerprint = fp
		}
	}

	s.mu.Lock()
	s.target = t
	s.mu.Unlock()

	s.logger.Debug("stage: target selected",
		"selector", ref, "status", status.String(), "matches", matches)
	return t, nil
}

// SuggestTarget asks the document to synthesize a stable selector for the
// element a reference resolves to, then selects it.
func (s *Stage) SuggestTarget(ctx context.Context, ref string) (*Target, error) {
	suggested, err := s.doc.Synthesize(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.SelectTarget(ctx, suggested)
}

// Inspect re-verifies the current target against the document: fresh
// resolution, fresh fingerprint comparison. Drift reports an element that
// still resolves but no longer looks like the one originally selected.
func (s *Stage) Inspect(ctx context.Context) (*Target, bool, error) {
	s.mu.Lock()
	cur := s.target
	s.mu.Unlock()
	if cur == nil {
		return nil, false, nil
	}

	fresh, err := s.SelectTarget(ctx, cur.Selector)
	if err != nil {
		return nil, false, err
	}
	drift := fresh.Unique() && !cur.Fingerprint.IsZero() &&
		!fresh.Fingerprint.Matches(cur.Fingerprint)
	return fresh, drift, nil
}

// ClearTarget drops the current selection.
func (s *Stage) ClearTarget() {
	s.mu.Lock()
	s.target = nil
	s.mu.Unlock()
}

// Target returns the current selection, or nil.
func (s *Stage) Target() *Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	t := *s.target
	return &t
}

// CaptureResult is the outcome of a capture attempt. A target that no
// longer resolves uniquely yields a result without a patch; only
// transport failures are errors.
type CaptureResult struct {
	Patch      *patch.Patch    `json:"patch,omitempty"`
	Status     selector.Status `json:"status"`
	MatchCount int             `json:"match_count"`
}

// Captured reports whether a patch was recorded.
func (r *CaptureResult) Captured() bool { return r != nil && r.Patch != nil }

// Capture records a property edit against the current target. The prior
// value is read before the edit is recorded so undo and export can report
// it; the target's identity fingerprint is attached for later
// verification. Pushing clears the redo stack.
func (s *Stage) Capture(ctx context.Context, property, value string) (*CaptureResult, error) {
	s.mu.Lock()
	cur := s.target
	s.mu.Unlock()
	if cur == nil {
		return nil, ErrNoTarget
	}

	// Re-resolve at capture time: the page may have changed since
	// selection.
	status, matches, err := s.doc.Resolve(ctx, cur.Selector)
	if err != nil {
		return nil, err
	}
	if status != selector.StatusUnique {
		s.logger.Warn("stage: capture against non-unique target",
			"selector", cur.Selector, "status", status.String())
		return &CaptureResult{Status: status, MatchCount: matches}, nil
	}

	prior, err := s.doc.ReadStyle(ctx, cur.Selector, property)
	if err != nil {
		return nil, err
	}
	var original *string
	if prior != "" {
		original = &prior
	}

	p := &patch.Patch{
		ID:        s.patchID(),
		Selector:  cur.Selector,
		Property:  property,
		Value:     value,
		Original:  original,
		CreatedAt: s.now().UTC(),
	}
	if fp, ok, err := s.doc.Fingerprint(ctx, cur.Selector); err == nil && ok {
		p.Fingerprint = &fp
	}

	// Writable documents see the edit; failing to apply it means nothing
	// gets recorded.
	if w, ok := s.doc.(StyleWriter); ok {
		if err := w.SetStyle(ctx, cur.Selector, property, value); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.history.Push(p)
	// Any acknowledgment covered the previous patch set.
	s.acknowledged = false
	s.mu.Unlock()

	s.logger.Info("stage: captured",
		"patch", p.ID, "selector", p.Selector, "property", property)
	return &CaptureResult{Patch: p, Status: status, MatchCount: matches}, nil
}

// StepResult is the outcome of an undo or redo step.
type StepResult struct {
	Patch  *patch.Patch    `json:"patch"`
	Status selector.Status `json:"status"`
	// Drift is set when the patch target still resolves uniquely but its
	// identity fingerprint no longer matches the one recorded at capture.
	Drift bool `json:"drift"`
}

// Undo parks the most recent patch. An empty history is a defined no-op
// returning (nil, nil). The patch's target is re-verified so the caller
// knows whether reverting it on the live page is still safe.
func (s *Stage) Undo(ctx context.Context) (*StepResult, error) {
	s.mu.Lock()
	p, ok := s.history.PopUndo()
	if ok {
		s.acknowledged = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	res, err := s.verifyStep(ctx, p)
	if err == nil {
		s.restoreStyle(ctx, p, res)
	}
	return res, err
}

// Redo re-applies the most recently parked patch. An empty redo stack is
// a defined no-op returning (nil, nil).
func (s *Stage) Redo(ctx context.Context) (*StepResult, error) {
	s.mu.Lock()
	p, ok := s.history.PopRedo()
	if ok {
		s.acknowledged = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	res, err := s.verifyStep(ctx, p)
	if err == nil {
		s.reapplyStyle(ctx, p, res)
	}
	return res, err
}

// restoreStyle writes the pre-patch value back onto a writable document:
// the recorded original when one exists, otherwise the inline property is
// removed. Skipped when the target no longer resolves uniquely or has
// drifted; the step must not touch an element it no longer owns.
func (s *Stage) restoreStyle(ctx context.Context, p *patch.Patch, res *StepResult) {
	w, ok := s.doc.(StyleWriter)
	if !ok || res.Status != selector.StatusUnique || res.Drift {
		return
	}
	var err error
	if p.Original != nil {
		err = w.SetStyle(ctx, p.Selector, p.Property, *p.Original)
	} else {
		err = w.ClearStyle(ctx, p.Selector, p.Property)
	}
	if err != nil {
		s.logger.Warn("stage: restore style failed", "patch", p.ID, "error", err)
	}
}

// reapplyStyle writes a redone patch's value back, under the same safety
// conditions as restoreStyle.
func (s *Stage) reapplyStyle(ctx context.Context, p *patch.Patch, res *StepResult) {
	w, ok := s.doc.(StyleWriter)
	if !ok || res.Status != selector.StatusUnique || res.Drift {
		return
	}
	if err := w.SetStyle(ctx, p.Selector, p.Property, p.Value); err != nil {
		s.logger.Warn("stage: reapply style failed", "patch", p.ID, "error", err)
	}
}

func (s *Stage) verifyStep(ctx context.Context, p *patch.Patch) (*StepResult, error) {
	res := &StepResult{Patch: p}
	status, _, err := s.doc.Resolve(ctx, p.Selector)
	if err != nil {
		// The step itself already happened; surface the patch with an
		// unknown status rather than losing it.
		s.logger.Warn("stage: step verification failed", "patch", p.ID, "error", err)
		res.Status = selector.StatusNotFound
		return res, nil
	}
	res.Status = status
	if status == selector.StatusUnique && p.Fingerprint != nil {
		if live, ok, err := s.doc.Fingerprint(ctx, p.Selector); err == nil && ok {
			res.Drift = !live.Matches(*p.Fingerprint)
		}
	}
	if res.Drift {
		s.logger.Warn("stage: identity drift on history step",
			"patch", p.ID, "selector", p.Selector)
	}
	return res, nil
}

// HistoryState summarises the undo/redo stacks.
type HistoryState struct {
	Applied []*patch.Patch `json:"applied"` // oldest first
	Parked  []*patch.Patch `json:"parked"`  // most recently undone first
	CanUndo bool           `json:"can_undo"`
	CanRedo bool           `json:"can_redo"`
}

// History returns a snapshot of both stacks.
func (s *Stage) History() HistoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HistoryState{
		Applied: s.history.Applied(),
		Parked:  s.history.Parked(),
		CanUndo: s.history.CanUndo(),
		CanRedo: s.history.CanRedo(),
	}
}

// Report is the aggregate status of the stage.
type Report struct {
	PageURL      string           `json:"page_url"`
	Target       *Target          `json:"target,omitempty"`
	PatchCount   int              `json:"patch_count"`
	ParkedCount  int              `json:"parked_count"`
	Mode         session.Mode     `json:"mode"`
	Acknowledged bool             `json:"acknowledged"`
	Session      session.State    `json:"session_state,omitempty"`
	Failure      *session.Failure `json:"failure,omitempty"`
}

// Status reports the current stage, history, and session state.
func (s *Stage) Status() Report {
	s.mu.Lock()
	r := Report{
		PageURL:      s.doc.URL(),
		PatchCount:   s.history.Len(),
		ParkedCount:  len(s.history.Parked()),
		Mode:         s.mode,
		Acknowledged: s.acknowledged,
	}
	if s.target != nil {
		t := *s.target
		r.Target = &t
	}
	s.mu.Unlock()

	if s.machine != nil {
		snap := s.machine.Snapshot()
		r.Session = snap.State
		r.Failure = snap.Err
	}
	return r
}
