package api

import (
	"errors"
	"net/http"

	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/store"
	"github.com/seantiz/ensemble/internal/tracker"
)

// historyResponse is the JSON response for GET /v1/history.
type historyResponse struct {
	RunID          string               `json:"run_id,omitempty"`
	Realizations   []*model.Realization `json:"realizations"`
	Total          int                  `json:"total"`
	Limit          int                  `json:"limit"`
	Offset         int                  `json:"offset"`
	LatestSnapshot *tracker.Snapshot    `json:"latest_snapshot,omitempty"`
}

// handleGetHistory lists journaled realizations. run_id defaults to the
// current run; run_id=* lists every run.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runID := r.URL.Query().Get("run_id")
	switch runID {
	case "":
		runID = s.ensemble.RunID()
	case "*":
		runID = ""
	}

	list, total, err := s.store.ListRealizations(r.Context(), runID, limit, offset)
	if err != nil {
		s.logger.Error("list journaled realizations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if list == nil {
		list = []*model.Realization{}
	}

	resp := historyResponse{
		RunID:        runID,
		Realizations: list,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}

	if runID != "" {
		snap, err := s.store.LatestSnapshot(r.Context(), runID)
		switch {
		case err == nil:
			resp.LatestSnapshot = snap
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Error("get latest snapshot", "run_id", runID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get latest snapshot")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
