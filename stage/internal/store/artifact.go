package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/domstage/dbopen"
	"github.com/hazyhaar/domstage/export"
)

// Record is a persisted export artifact.
type Record struct {
	ID           string `json:"id"`
	PageURL      string `json:"page_url"`
	CapturedAt   string `json:"captured_at"`
	PatchCount   int    `json:"patch_count"`
	WarningCount int    `json:"warning_count"`
	Critical     bool   `json:"critical"`
	CreatedAt    int64  `json:"created_at"`
}

// ErrNotFound is returned when an artifact ID does not exist.
var ErrNotFound = errors.New("store: artifact not found")

// InsertArtifact persists an export artifact under the given ID.
func (s *Store) InsertArtifact(ctx context.Context, id string, a *export.Artifact) (*Record, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("store: encode artifact: %w", err)
	}
	rec := &Record{
		ID:           id,
		PageURL:      a.PageURL,
		CapturedAt:   a.CapturedAt,
		PatchCount:   len(a.Patches),
		WarningCount: len(a.Warnings),
		Critical:     a.HasCritical(),
		CreatedAt:    time.Now().UnixMilli(),
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO artifacts
			(id, page_url, captured_at, patch_count, warning_count, critical, payload, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.PageURL, rec.CapturedAt, rec.PatchCount, rec.WarningCount,
		boolInt(rec.Critical), string(payload), rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert artifact: %w", err)
	}
	return rec, nil
}

// GetArtifact retrieves a persisted artifact and its metadata by ID.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Record, *export.Artifact, error) {
	rec := &Record{}
	var critical int
	var payload string
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, page_url, captured_at, patch_count, warning_count, critical, payload, created_at
		FROM artifacts WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.PageURL, &rec.CapturedAt, &rec.PatchCount, &rec.WarningCount,
		&critical, &payload, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: get artifact: %w", err)
	}
	rec.Critical = critical != 0

	var a export.Artifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, nil, fmt.Errorf("store: decode artifact %s: %w", id, err)
	}
	return rec, &a, nil
}

// ListArtifacts returns artifact metadata, newest first. A non-empty
// pageURL filters to one page; limit <= 0 means 50.
func (s *Store) ListArtifacts(ctx context.Context, pageURL string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, page_url, captured_at, patch_count, warning_count, critical, created_at
		FROM artifacts`
	args := []any{}
	if pageURL != "" {
		query += ` WHERE page_url = ?`
		args = append(args, pageURL)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var critical int
		if err := rows.Scan(&rec.ID, &rec.PageURL, &rec.CapturedAt, &rec.PatchCount,
			&rec.WarningCount, &critical, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		rec.Critical = critical != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteArtifact removes a persisted artifact.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
