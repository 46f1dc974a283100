// Package credstore persists provider credentials in SQLite with the API
// key sealed at rest. The sealing key is derived from a deployment secret
// via SHA-256, so the database file alone is not enough to recover keys.
package credstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hazyhaar/domstage/dbopen"
	"github.com/hazyhaar/domstage/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	name        TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	sealed_key  TEXT NOT NULL,
	invalid     INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);
`

// The table holds two fixed records: the active credentials, overwritten
// on every connect, and the name of the last provider used, which
// survives deletion so the next connect can pre-select it.
const (
	recordName   = "active"
	lastProvider = "last_provider"
)

// Store implements session.CredentialStore over an SQLite table.
type Store struct {
	db     *sql.DB
	key    []byte
	logger *slog.Logger
}

// Option customises the store.
type Option func(*Store)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New prepares the credentials table and derives the sealing key from
// secret. The secret may be any non-empty string; it is hashed to the
// 32 bytes ChaCha20-Poly1305 requires.
func New(db *sql.DB, secret string, opts ...Option) (*Store, error) {
	if secret == "" {
		return nil, errors.New("credstore: deployment secret is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("credstore: init schema: %w", err)
	}
	h := sha256.Sum256([]byte(secret))
	s := &Store{db: db, key: h[:], logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Save seals and upserts the credentials. A successful Save clears any
// previously recorded invalid flag.
func (s *Store) Save(ctx context.Context, creds *session.Credentials) error {
	if creds == nil || creds.Provider == "" || creds.APIKey == "" {
		return errors.New("credstore: provider and api key are required")
	}
	sealed, err := s.seal(creds.APIKey)
	if err != nil {
		return err
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)
		upsert := `
			INSERT INTO credentials (name, provider, sealed_key, invalid, updated_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(name) DO UPDATE SET
				provider = excluded.provider,
				sealed_key = excluded.sealed_key,
				invalid = 0,
				updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, upsert, recordName, creds.Provider, sealed, now); err != nil {
			return fmt.Errorf("credstore: save: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, lastProvider, creds.Provider, "", now); err != nil {
			return fmt.Errorf("credstore: save last provider: %w", err)
		}
		return nil
	})
}

// LastProvider returns the provider name of the most recently saved
// credentials, or "" when nothing was ever saved. The record survives
// Delete.
func (s *Store) LastProvider(ctx context.Context) (string, error) {
	var provider string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider FROM credentials WHERE name = ?`, lastProvider).Scan(&provider)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("credstore: last provider: %w", err)
	}
	return provider, nil
}

// Load returns the persisted credentials with the API key unsealed, or
// (nil, nil) when nothing has been saved yet.
func (s *Store) Load(ctx context.Context) (*session.Credentials, error) {
	var provider, sealed string
	var invalid int
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, sealed_key, invalid FROM credentials WHERE name = ?`,
		recordName).Scan(&provider, &sealed, &invalid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: load: %w", err)
	}
	key, err := s.unseal(sealed)
	if err != nil {
		// A changed deployment secret leaves sealed keys unreadable. Treat
		// the record as invalidated rather than failing startup.
		s.logger.Warn("credstore: cannot unseal stored key, forcing re-authentication", "error", err)
		return &session.Credentials{Provider: provider, Invalid: true}, nil
	}
	return &session.Credentials{Provider: provider, APIKey: key, Invalid: invalid != 0}, nil
}

// MarkInvalid flags the stored credentials as rejected by the provider.
// Marking a missing record is a no-op.
func (s *Store) MarkInvalid(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE credentials SET invalid = 1, updated_at = ? WHERE name = ?`,
		time.Now().UTC().Format(time.RFC3339), recordName)
	if err != nil {
		return fmt.Errorf("credstore: mark invalid: %w", err)
	}
	return nil
}

// Delete removes the stored credentials.
func (s *Store) Delete(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM credentials WHERE name = ?`, recordName)
	if err != nil {
		return fmt.Errorf("credstore: delete: %w", err)
	}
	return nil
}

func (s *Store) seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credstore: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credstore: nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Store) unseal(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("credstore: decode: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("credstore: cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("credstore: sealed value too short")
	}
	nonce, box := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", fmt.Errorf("credstore: unseal: %w", err)
	}
	return string(plain), nil
}

var _ session.CredentialStore = (*Store)(nil)
