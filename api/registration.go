package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/sigcheck"
	"github.com/kredo-protocol/kredo/store"
)

type registerRequest struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

func (req *registerRequest) validate() error {
	if !model.ValidPubkey(req.Pubkey) {
		return model.NewError(model.KindValidation, "pubkey must be 'ed25519:' followed by 64 lowercase hex characters")
	}
	if req.Type == "" {
		req.Type = string(model.TypeAgent)
	}
	if !model.ValidAttestorType(req.Type) {
		return model.NewError(model.KindValidation, "type must be 'agent' or 'human'")
	}
	if len(req.Name) > 120 {
		return model.NewError(model.KindValidation, "name must be 120 characters or fewer")
	}
	return nil
}

// handleRegister is the unsigned announcement endpoint. Keyed by source IP;
// an existing registration is echoed back with 409, never overwritten.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.Pubkey)
	if err := s.allow(r, ratelimit.ActionRegister, meta.SourceIP); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.store.RegisterUnsigned(r.Context(), req.Pubkey, req.Name, req.Type, meta)
	if err != nil {
		if model.IsKind(err, model.KindConflict) {
			err = model.NewError(model.KindConflict, "pubkey already registered").
				WithDetail("existing", rec)
		}
		s.auditRejection(r, store.AuditRegistrationCreate, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditRegistrationCreate, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "registered",
		"agent":  rec,
	})
}

type registerUpdateRequest struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// handleRegisterUpdate applies a signed name/type change to an existing key.
func (s *Server) handleRegisterUpdate(w http.ResponseWriter, r *http.Request) {
	var req registerUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	base := registerRequest{Pubkey: req.Pubkey, Name: req.Name, Type: req.Type}
	if err := base.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Type = base.Type
	meta := requestMeta(r, req.Pubkey)
	if err := s.allow(r, ratelimit.ActionRegister, req.Pubkey); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := sigcheck.RegisterUpdatePayload(req.Pubkey, req.Name, req.Type)
	if err := sigcheck.VerifyPayload(payload, req.Signature, req.Pubkey); err != nil {
		s.auditRejection(r, store.AuditRegistrationUpdate, meta, err)
		s.writeError(w, r, err)
		return
	}

	rec, err := s.store.RegisterUpdate(r.Context(), req.Pubkey, req.Name, req.Type, meta)
	if err != nil {
		s.auditRejection(r, store.AuditRegistrationUpdate, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditRegistrationUpdate, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "updated",
		"agent":  rec,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	agents, total, err := s.store.ListKnownKeys(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []model.KnownKey{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.KnownKey(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Assemble(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
