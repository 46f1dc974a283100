package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/domstage/connectivity"
)

// RegisterConnectivity registers staging handlers on a connectivity Router.
//
// Registered operations:
//
//	domstage_select    — select or synthesize a target selector
//	domstage_capture   — capture a style edit as an undoable patch
//	domstage_undo      — park the most recent patch
//	domstage_redo      — re-apply the most recently parked patch
//	domstage_export    — assemble (and optionally persist) an export artifact
//	domstage_status    — report staging and session status
//	domstage_artifacts — list persisted artifacts
func (s *Stage) RegisterConnectivity(router *connectivity.Router) {
	router.Register("domstage_select", s.handleSelect)
	router.Register("domstage_capture", s.handleCapture)
	router.Register("domstage_undo", s.handleUndo)
	router.Register("domstage_redo", s.handleRedo)
	router.Register("domstage_export", s.handleExport)
	router.Register("domstage_status", s.handleStatus)
	router.Register("domstage_artifacts", s.handleArtifacts)
}

func (s *Stage) handleSelect(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Selector   string `json:"selector"`
		Synthesize bool   `json:"synthesize"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var (
		target *Target
		err    error
	)
	if req.Synthesize {
		target, err = s.SuggestTarget(ctx, req.Selector)
	} else {
		target, err = s.SelectTarget(ctx, req.Selector)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(target)
}

func (s *Stage) handleCapture(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Property string `json:"property"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	res, err := s.Capture(ctx, req.Property, req.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (s *Stage) handleUndo(ctx context.Context, _ []byte) ([]byte, error) {
	res, err := s.Undo(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepReply{Stepped: res != nil, Result: res})
}

func (s *Stage) handleRedo(ctx context.Context, _ []byte) ([]byte, error) {
	res, err := s.Redo(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepReply{Stepped: res != nil, Result: res})
}

func (s *Stage) handleExport(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Persist bool `json:"persist"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}

	if req.Persist {
		rec, artifact, err := s.Export(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"record": rec, "artifact": artifact})
	}
	artifact, err := s.BuildExport(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifact)
}

func (s *Stage) handleStatus(_ context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(s.Status())
}

func (s *Stage) handleArtifacts(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		PageURL string `json:"page_url"`
		Limit   int    `json:"limit"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}

	records, err := s.Artifacts(ctx, req.PageURL, req.Limit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(records)
}
