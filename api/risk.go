package api

import (
	"net/http"

	"github.com/kredo-protocol/kredo/store"
)

// handleSourceAnomalies clusters recent audit rows by hashed source IP and
// reports sources with suspicious fan-out.
func (s *Server) handleSourceAnomalies(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	minEvents := queryInt(r, "min_events", 10)
	minUniqueActors := queryInt(r, "min_unique_actors", 3)
	limit := queryInt(r, "limit", 50)

	anomalies, err := s.store.SourceAnomalies(r.Context(), hours, minEvents, minUniqueActors, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if anomalies == nil {
		anomalies = []store.SourceAnomaly{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": hours,
		"anomalies":    anomalies,
	})
}
