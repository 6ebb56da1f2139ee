package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/realization"
	"github.com/seantiz/ensemble/internal/simulation"
	"github.com/seantiz/ensemble/internal/submit"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 100
	maxBodySize       = 1 << 20 // 1 MB
	defaultStuckAfter = 5 * time.Minute
)

// addRealizationRequest is the JSON body for POST /v1/realizations.
type addRealizationRequest struct {
	Iens   *int   `json:"iens"`
	Target string `json:"target"`
}

// listRealizationsResponse wraps the realization list response.
type listRealizationsResponse struct {
	RunID        string              `json:"run_id"`
	Size         int                 `json:"size"`
	Realizations []model.Realization `json:"realizations"`
}

// stuckResponse is the JSON response for GET /v1/realizations/stuck.
type stuckResponse struct {
	After string `json:"after"`
	Iens  []int  `json:"iens"`
}

func (s *Server) handleAddRealization(w http.ResponseWriter, r *http.Request) {
	var req addRealizationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Iens == nil {
		s.writeError(w, http.StatusBadRequest, "iens is required")
		return
	}
	iens := *req.Iens

	err := s.ensemble.AddSimulation(r.Context(), iens, req.Target)
	switch {
	case errors.Is(err, realization.ErrOutOfRange):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, realization.ErrDuplicate):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, submit.ErrPoolClosed):
		s.writeError(w, http.StatusServiceUnavailable, "ensemble no longer accepts realizations")
		return
	case err != nil:
		s.logger.Error("add realization", "iens", iens, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to add realization")
		return
	}

	v, err := s.ensemble.Realization(iens)
	if err != nil {
		s.logger.Error("get added realization", "iens", iens, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve realization")
		return
	}
	s.writeJSON(w, http.StatusAccepted, v)
}

func (s *Server) handleGetRealization(w http.ResponseWriter, r *http.Request) {
	iens, err := strconv.Atoi(chi.URLParam(r, "iens"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "iens must be an integer")
		return
	}

	v, err := s.ensemble.Realization(iens)
	if errors.Is(err, simulation.ErrNotQueued) {
		s.writeError(w, http.StatusNotFound, "realization not queued")
		return
	}
	if err != nil {
		s.logger.Error("get realization", "iens", iens, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get realization")
		return
	}

	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleListRealizations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listRealizationsResponse{
		RunID:        s.ensemble.RunID(),
		Size:         s.ensemble.Size(),
		Realizations: s.ensemble.Realizations(),
	})
}

func (s *Server) handleStuckRealizations(w http.ResponseWriter, r *http.Request) {
	after := defaultStuckAfter
	if v := r.URL.Query().Get("after"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "after must be a non-negative duration")
			return
		}
		after = d
	}

	stuck := s.ensemble.StuckRealizations(after)
	if stuck == nil {
		stuck = []int{}
	}
	s.writeJSON(w, http.StatusOK, stuckResponse{After: after.String(), Iens: stuck})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
