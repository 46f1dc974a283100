package credstore

import (
	"context"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domstage/dbopen"
	"github.com/hazyhaar/domstage/session"
)

func newStore(t *testing.T, secret string) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := New(db, secret)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t, "deploy-secret")
	ctx := context.Background()

	if err := s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-123"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Provider != "acme" || got.APIKey != "sk-123" || got.Invalid {
		t.Fatalf("Load = %+v", got)
	}
}

func TestLoadEmpty(t *testing.T) {
	s := newStore(t, "deploy-secret")
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("Load on empty store = %+v, want nil", got)
	}
}

func TestKeySealedAtRest(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := New(db, "deploy-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-secret-value"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var sealed string
	if err := db.QueryRow(`SELECT sealed_key FROM credentials`).Scan(&sealed); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sealed, "sk-secret-value") {
		t.Fatalf("api key stored in the clear: %q", sealed)
	}
}

func TestMarkInvalidAndResave(t *testing.T) {
	s := newStore(t, "deploy-secret")
	ctx := context.Background()

	if err := s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.MarkInvalid(ctx); err != nil {
		t.Fatalf("MarkInvalid: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Invalid {
		t.Fatal("invalid flag not persisted")
	}

	// A fresh save clears the flag.
	if err := s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-2"}); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Invalid || got.APIKey != "sk-2" {
		t.Fatalf("Load after re-save = %+v", got)
	}
}

func TestMarkInvalidWithoutRecord(t *testing.T) {
	s := newStore(t, "deploy-secret")
	if err := s.MarkInvalid(context.Background()); err != nil {
		t.Fatalf("MarkInvalid on empty store: %v", err)
	}
}

func TestChangedSecretForcesReauth(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()

	s1, err := New(db, "old-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := New(db, "new-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Invalid || got.APIKey != "" {
		t.Fatalf("Load with rotated secret = %+v, want invalidated record", got)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t, "deploy-secret")
	ctx := context.Background()
	s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-1"})
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("Load after delete = %+v, %v", got, err)
	}
}

func TestLastProviderSurvivesDelete(t *testing.T) {
	s := newStore(t, "deploy-secret")
	ctx := context.Background()

	got, err := s.LastProvider(ctx)
	if err != nil || got != "" {
		t.Fatalf("LastProvider on empty store = %q, %v", got, err)
	}

	s.Save(ctx, &session.Credentials{Provider: "acme", APIKey: "sk-1"})
	s.Delete(ctx)

	got, err = s.LastProvider(ctx)
	if err != nil {
		t.Fatalf("LastProvider: %v", err)
	}
	if got != "acme" {
		t.Fatalf("LastProvider = %q, want acme", got)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := New(db, ""); err == nil {
		t.Fatal("New with empty secret must fail")
	}
}
