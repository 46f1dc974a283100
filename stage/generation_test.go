package stage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domstage/gate"
	"github.com/hazyhaar/domstage/session"
)

type memCreds struct {
	mu    sync.Mutex
	creds *session.Credentials
}

func (m *memCreds) Save(_ context.Context, c *session.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.creds = &cp
	return nil
}

func (m *memCreds) Load(_ context.Context) (*session.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	cp := *m.creds
	return &cp, nil
}

func (m *memCreds) MarkInvalid(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		m.creds.Invalid = true
	}
	return nil
}

// recordingProvider captures the request it was handed and returns a
// canned response.
type recordingProvider struct {
	mu  sync.Mutex
	req session.Request
}

func (p *recordingProvider) generate(_ context.Context, req session.Request) (*session.Response, error) {
	p.mu.Lock()
	p.req = req
	p.mu.Unlock()
	return &session.Response{Text: "done", Model: "test-model"}, nil
}

func (p *recordingProvider) last() session.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.req
}

func newSessionStage(t *testing.T) (*Stage, *recordingProvider) {
	t.Helper()
	p := &recordingProvider{}
	m := session.New(&memCreds{}, p.generate, session.WithLogger(testLogger()))
	doc := parseDoc(t, fixture)
	return New(doc, m, WithLogger(testLogger())), p
}

func connectAndCapture(t *testing.T, s *Stage) {
	t.Helper()
	ctx := context.Background()
	if err := s.Connect(ctx, session.Credentials{Provider: "acme", APIKey: "k1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := s.SelectTarget(ctx, "header#top h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(ctx, "color", "red"); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareGenerationAdmits(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionStage(t)
	connectAndCapture(t, s)

	if err := s.PrepareGeneration(ctx); err != nil {
		t.Fatalf("PrepareGeneration: %v", err)
	}

	snap := s.Session()
	if snap.State != session.StateReady {
		t.Fatalf("state = %s, err = %v", snap.State, snap.Err)
	}
	payload := string(snap.Context.Payload)
	if !strings.Contains(payload, "header#top h1") {
		t.Fatalf("payload lacks the patch selector:\n%s", payload)
	}
	if !strings.Contains(payload, "https://example.com/plans") {
		t.Fatalf("payload lacks the page URL:\n%s", payload)
	}
	if !strings.Contains(payload, "Plans") {
		t.Fatalf("payload lacks the target markup context:\n%s", payload)
	}
}

func TestPrepareGenerationWithoutChangesFails(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionStage(t)
	if err := s.Connect(ctx, session.Credentials{Provider: "acme", APIKey: "k1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := s.PrepareGeneration(ctx); err != nil {
		t.Fatalf("PrepareGeneration: %v", err)
	}
	snap := s.Session()
	if snap.State != session.StateFailed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if snap.Err == nil || !strings.Contains(snap.Err.Message, gate.GateHasChanges) {
		t.Fatalf("failure = %+v", snap.Err)
	}
}

func TestPrepareGenerationRepositoryModeNeedsRepository(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionStage(t)
	connectAndCapture(t, s)

	s.SetMode(session.ModeRepository, "")
	if err := s.PrepareGeneration(ctx); err != nil {
		t.Fatalf("PrepareGeneration: %v", err)
	}
	snap := s.Session()
	if snap.State != session.StateFailed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if snap.Err == nil || !strings.Contains(snap.Err.Message, gate.GateMode) {
		t.Fatalf("failure = %+v", snap.Err)
	}

	if err := s.AcknowledgeOutcome(); err != nil {
		t.Fatalf("AcknowledgeOutcome: %v", err)
	}
	s.SetMode(session.ModeRepository, "git@example.com:acme/site.git")
	if err := s.PrepareGeneration(ctx); err != nil {
		t.Fatalf("PrepareGeneration: %v", err)
	}
	if got := s.Session(); got.State != session.StateReady {
		t.Fatalf("state = %s, err = %v", got.State, got.Err)
	}
}

func TestGenerationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, p := newSessionStage(t)
	connectAndCapture(t, s)
	s.SetNotes("keep the palette")

	if err := s.PrepareGeneration(ctx); err != nil {
		t.Fatalf("PrepareGeneration: %v", err)
	}
	if err := s.StartGeneration(ctx); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	snap := waitSessionState(t, s, session.StateReview)
	if snap.Response == nil || snap.Response.Text != "done" {
		t.Fatalf("response = %+v", snap.Response)
	}
	if req := p.last(); !strings.Contains(string(req.Payload), "keep the palette") {
		t.Fatalf("provider payload lacks the notes:\n%s", req.Payload)
	}

	if err := s.ConfirmResponse(); err != nil {
		t.Fatalf("ConfirmResponse: %v", err)
	}
	if got := s.Session(); got.State != session.StateConfirmed {
		t.Fatalf("state = %s, want confirmed", got.State)
	}
	if err := s.AcknowledgeOutcome(); err != nil {
		t.Fatalf("AcknowledgeOutcome: %v", err)
	}
	if got := s.Session(); got.State != session.StateIdle {
		t.Fatalf("state = %s, want idle", got.State)
	}
}

func waitSessionState(t *testing.T, s *Stage, want session.State) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Session()
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.Session().State, want)
	return session.Snapshot{}
}
