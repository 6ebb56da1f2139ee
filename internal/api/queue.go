package api

import (
	"net/http"
)

// queueResponse is the JSON response for GET /v1/queue.
type queueResponse struct {
	RunID     string `json:"run_id"`
	Size      int    `json:"size"`
	Running   int    `json:"running"`
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Waiting   int    `json:"waiting"`
	IsRunning bool   `json:"is_running"`
}

func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, queueResponse{
		RunID:     s.ensemble.RunID(),
		Size:      s.ensemble.Size(),
		Running:   s.ensemble.NumRunning(),
		Success:   s.ensemble.NumSuccess(),
		Failed:    s.ensemble.NumFailed(),
		Waiting:   s.ensemble.NumWaiting(),
		IsRunning: s.ensemble.IsRunning(),
	})
}

func (s *Server) handleGetStates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}
