package api

import "net/http"

func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.drivers.List())
}
