package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kredo-protocol/kredo/store"
)

func (s *Server) handleWhoAttested(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	links, err := s.store.WhoAttested(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if links == nil {
		links = []store.AttestorLink{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject":   pubkey,
		"attestors": links,
	})
}

func (s *Server) handleAttestedBy(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	recs, err := s.store.AttestedBy(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.AttestationRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"attestor":     pubkey,
		"attestations": recs,
	})
}

func (s *Server) handleTrustAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.engine.Analyze(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleRings(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Rings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleNetworkHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.engine.NetworkHealth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}
