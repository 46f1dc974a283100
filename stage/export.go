package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/domstage/export"
	"github.com/hazyhaar/domstage/stage/internal/store"
)

// BuildExport assembles a fresh artifact from the applied history.
// Confidence labels are frozen at this moment; unverified patches are
// dropped with a warning. An error means the document could not be
// consulted, not that a selector failed to match.
func (s *Stage) BuildExport(ctx context.Context) (*export.Artifact, error) {
	s.mu.Lock()
	patches := s.history.Applied()
	selected := ""
	if s.target != nil {
		selected = s.target.Selector
	}
	viewport := s.viewport
	s.mu.Unlock()

	return export.Build(ctx, s.doc, export.BuildInput{
		PageURL:  s.doc.URL(),
		Viewport: viewport,
		Patches:  patches,
		Selected: selected,
	}, s.now())
}

// Export assembles, validates, and persists an artifact. Validation
// failures abort the export; persistence requires a configured store.
func (s *Stage) Export(ctx context.Context) (*store.Record, *export.Artifact, error) {
	a, err := s.BuildExport(ctx)
	if err != nil {
		return nil, nil, err
	}
	if errs := export.ValidateArtifact(a); len(errs) > 0 {
		return nil, nil, validationError(errs)
	}
	if s.store == nil {
		return nil, nil, ErrNoStore
	}

	rec, err := s.store.InsertArtifact(ctx, s.artifactID(), a)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("stage: exported",
		"artifact", rec.ID, "patches", rec.PatchCount, "warnings", rec.WarningCount,
		"critical", rec.Critical)
	return rec, a, nil
}

// validationError folds every structural defect into one error, so the
// caller sees the complete list instead of just the first.
func validationError(errs []export.ValidationError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("stage: artifact failed validation: %s", strings.Join(msgs, "; "))
}

// Artifacts lists persisted artifact metadata, newest first.
func (s *Stage) Artifacts(ctx context.Context, pageURL string, limit int) ([]*store.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListArtifacts(ctx, pageURL, limit)
}

// Artifact retrieves one persisted artifact by ID.
func (s *Stage) Artifact(ctx context.Context, id string) (*store.Record, *export.Artifact, error) {
	if s.store == nil {
		return nil, nil, ErrNoStore
	}
	return s.store.GetArtifact(ctx, id)
}
