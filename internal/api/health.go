package api

import (
	"context"
	"net/http"
	"time"
)

const healthStoreTimeout = 2 * time.Second

// Ensemble phases reported by /healthz.
const (
	phaseIdle     = "idle"
	phaseRunning  = "running"
	phaseComplete = "complete"
)

type healthResponse struct {
	Status   string   `json:"status"`
	RunID    string   `json:"run_id"`
	Phase    string   `json:"phase"`
	Size     int      `json:"size"`
	Queued   int      `json:"queued"`
	Finished int      `json:"finished"`
	Drivers  []string `json:"drivers"`
	Store    string   `json:"store"`
}

// handleHealthz reports the ensemble phase and whether the journal is
// reachable. An unreachable journal answers 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		RunID:    s.ensemble.RunID(),
		Size:     s.ensemble.Size(),
		Queued:   len(s.ensemble.Realizations()),
		Finished: s.tracker.NumFinished(),
		Drivers:  s.drivers.List(),
		Store:    "ok",
	}
	switch {
	case s.ensemble.IsRunning():
		resp.Phase = phaseRunning
	case resp.Queued == 0:
		resp.Phase = phaseIdle
	default:
		resp.Phase = phaseComplete
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthStoreTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz: store unreachable", "error", err)
		resp.Status = "degraded"
		resp.Store = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
