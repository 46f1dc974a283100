// Package httpapi exposes the staging operations as a JSON REST surface.
// Every route runs behind the shield middleware stack: security headers,
// a request body cap, and per-request IDs.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domstage/session"
	"github.com/hazyhaar/domstage/shield"
	"github.com/hazyhaar/domstage/stage"
)

// maxBodyBytes caps request bodies. Capture and selection payloads are
// tiny; anything bigger is a mistake.
const maxBodyBytes = 1 << 20

// Server serves the staging REST API for one Stage.
type Server struct {
	stage  *stage.Stage
	logger *slog.Logger
}

// New creates a Server. A nil logger falls back to slog.Default().
func New(st *stage.Stage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{stage: st, logger: logger}
}

// Router builds a chi router with the shield stack and all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(maxBodyBytes))
	r.Use(shield.RequestID)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the staging routes on an existing chi router.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Post("/v1/target", s.handleSelectTarget)
	r.Get("/v1/target", s.handleGetTarget)
	r.Delete("/v1/target", s.handleClearTarget)

	r.Post("/v1/patches", s.handleCapture)
	r.Get("/v1/history", s.handleHistory)
	r.Post("/v1/history/undo", s.handleUndo)
	r.Post("/v1/history/redo", s.handleRedo)

	r.Get("/v1/export", s.handleBuildExport)
	r.Post("/v1/export", s.handleExport)
	r.Get("/v1/artifacts", s.handleListArtifacts)
	r.Get("/v1/artifacts/{id}", s.handleGetArtifact)

	r.Get("/v1/status", s.handleStatus)

	r.Get("/v1/session", s.handleSession)
	r.Post("/v1/session/connect", s.handleConnect)
	r.Post("/v1/session/disconnect", s.handleDisconnect)
	r.Post("/v1/session/context", s.handleSessionContext)
	r.Post("/v1/session/prepare", s.handlePrepare)
	r.Post("/v1/session/start", s.handleStart)
	r.Post("/v1/session/cancel", s.handleCancel)
	r.Post("/v1/session/confirm", s.handleConfirm)
	r.Post("/v1/session/dismiss", s.handleDismiss)
	r.Post("/v1/session/regenerate", s.handleRegenerate)
	r.Post("/v1/session/acknowledge", s.handleAcknowledge)
}

func (s *Server) handleSelectTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selector   string `json:"selector"`
		Synthesize bool   `json:"synthesize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Selector == "" {
		http.Error(w, "selector required", http.StatusBadRequest)
		return
	}

	var (
		target *stage.Target
		err    error
	)
	if req.Synthesize {
		target, err = s.stage.SuggestTarget(r.Context(), req.Selector)
	} else {
		target, err = s.stage.SelectTarget(r.Context(), req.Selector)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target := s.stage.Target()
	if target == nil {
		http.Error(w, "no target selected", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleClearTarget(w http.ResponseWriter, r *http.Request) {
	s.stage.ClearTarget()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Property string `json:"property"`
		Value    string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Property == "" {
		http.Error(w, "property required", http.StatusBadRequest)
		return
	}

	res, err := s.stage.Capture(r.Context(), req.Property, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Captured() {
		// Target no longer unique: report the resolution, nothing recorded.
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stage.History())
}

type stepResponse struct {
	Stepped bool              `json:"stepped"`
	Result  *stage.StepResult `json:"result,omitempty"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.stage.Undo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Stepped: res != nil, Result: res})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	res, err := s.stage.Redo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Stepped: res != nil, Result: res})
}

func (s *Server) handleBuildExport(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.stage.BuildExport(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rec, artifact, err := s.stage.Export(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"record":   rec,
		"artifact": artifact,
	})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.stage.Artifacts(r.Context(), r.URL.Query().Get("page_url"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	rec, artifact, err := s.stage.Artifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":   rec,
		"artifact": artifact,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stage.Status())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stage.Session())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.stage.Connect(r.Context(), session.Credentials{
		Provider: req.Provider,
		APIKey:   req.APIKey,
	})
	s.sessionReply(w, r, err)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.Disconnect(r.Context()))
}

// handleSessionContext sets the attempt parameters: execution mode,
// repository, notes, and the instability acknowledgment.
func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode         string `json:"mode"`
		Repository   string `json:"repository"`
		Notes        string `json:"notes"`
		Acknowledged *bool  `json:"acknowledged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode != "" {
		mode := session.Mode(req.Mode)
		if mode != session.ModeStandalone && mode != session.ModeRepository {
			http.Error(w, "unknown mode", http.StatusBadRequest)
			return
		}
		s.stage.SetMode(mode, req.Repository)
	}
	s.stage.SetNotes(req.Notes)
	if req.Acknowledged != nil {
		s.stage.SetAcknowledged(*req.Acknowledged)
	}
	writeJSON(w, http.StatusOK, s.stage.Status())
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.PrepareGeneration(r.Context()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.StartGeneration(r.Context()))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.CancelGeneration())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.ConfirmResponse())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.DismissResponse())
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.RegenerateResponse())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.sessionReply(w, r, s.stage.AcknowledgeOutcome())
}

// sessionReply answers a session transition: the new snapshot on success,
// the mapped error otherwise.
func (s *Server) sessionReply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stage.Session())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stage.ErrNoTarget):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, stage.ErrNoMachine), errors.Is(err, stage.ErrNoStore):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, stage.ErrArtifactNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		shield.GetLogger(r.Context()).Error("httpapi: internal error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
