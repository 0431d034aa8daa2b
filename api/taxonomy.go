package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/sigcheck"
	"github.com/kredo-protocol/kredo/store"
	"github.com/kredo-protocol/kredo/taxonomy"
)

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version,
		"domains": snap.Domains(),
	})
}

func (s *Server) handleTaxonomyDomain(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "domain")
	domain := snap.Domain(id)
	if domain == nil {
		s.writeError(w, r, model.NewError(model.KindNotFound, "unknown domain: "+id).
			WithDetail("valid_domains", snap.DomainIDs()))
		return
	}
	s.writeJSON(w, http.StatusOK, domain)
}

type createDomainRequest struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleCreateDomain adds a signed community domain.
func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.Pubkey)

	accept := func() error {
		if err := s.validTaxonomyActor(req.Pubkey); err != nil {
			return err
		}
		if !s.registryValidID(req.ID) {
			return model.NewError(model.KindValidation, "id must match ^[a-z0-9]+(-[a-z0-9]+)*$")
		}
		if req.Label == "" || len(req.Label) > 100 {
			return model.NewError(model.KindValidation, "label must be 1-100 characters")
		}
		if err := s.allow(r, ratelimit.ActionTaxonomy, req.Pubkey); err != nil {
			return err
		}
		payload := sigcheck.CreateDomainPayload(req.ID, req.Label, req.Pubkey)
		return sigcheck.VerifyPayload(payload, req.Signature, req.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditDomainCreate, meta, err)
		s.writeError(w, r, err)
		return
	}

	snap, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snap.Domain(req.ID) != nil {
		err := model.NewError(model.KindConflict, "domain already exists").WithDetail("id", req.ID)
		s.auditRejection(r, store.AuditDomainCreate, meta, err)
		s.writeError(w, r, err)
		return
	}

	if err := s.store.CreateCustomDomain(r.Context(), req.ID, req.Label, req.Pubkey, meta); err != nil {
		s.auditRejection(r, store.AuditDomainCreate, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.registry.Invalidate()
	s.metrics.recordWrite(store.AuditDomainCreate, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "created",
		"id":     req.ID,
	})
}

type createSkillRequest struct {
	ID        string `json:"id"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleCreateSkill adds a signed community skill under an existing domain.
func (s *Server) handleCreateSkill(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domain")
	var req createSkillRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.Pubkey)

	accept := func() error {
		if err := s.validTaxonomyActor(req.Pubkey); err != nil {
			return err
		}
		if !s.registryValidID(req.ID) {
			return model.NewError(model.KindValidation, "id must match ^[a-z0-9]+(-[a-z0-9]+)*$")
		}
		if err := s.allow(r, ratelimit.ActionTaxonomy, req.Pubkey); err != nil {
			return err
		}
		payload := sigcheck.CreateSkillPayload(domainID, req.ID, req.Pubkey)
		return sigcheck.VerifyPayload(payload, req.Signature, req.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditSkillCreate, meta, err)
		s.writeError(w, r, err)
		return
	}

	snap, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	domain := snap.Domain(domainID)
	if domain == nil {
		err := model.NewError(model.KindNotFound, "unknown domain: "+domainID).
			WithDetail("valid_domains", snap.DomainIDs())
		s.auditRejection(r, store.AuditSkillCreate, meta, err)
		s.writeError(w, r, err)
		return
	}
	if snap.HasSkill(domainID, req.ID) {
		err := model.NewError(model.KindConflict, "skill already exists in domain").
			WithDetail("domain", domainID).WithDetail("id", req.ID)
		s.auditRejection(r, store.AuditSkillCreate, meta, err)
		s.writeError(w, r, err)
		return
	}

	if err := s.store.CreateCustomSkill(r.Context(), domainID, req.ID, req.Pubkey, meta); err != nil {
		s.auditRejection(r, store.AuditSkillCreate, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.registry.Invalidate()
	s.metrics.recordWrite(store.AuditSkillCreate, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "created",
		"domain": domainID,
		"id":     req.ID,
	})
}

type deleteTaxonomyRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleDeleteDomain removes an unused custom domain, creator-signed.
func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domain")
	var req deleteTaxonomyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.Pubkey)

	accept := func() error {
		if err := s.validTaxonomyActor(req.Pubkey); err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionTaxonomy, req.Pubkey); err != nil {
			return err
		}
		payload := sigcheck.DeleteDomainPayload(domainID, req.Pubkey)
		return sigcheck.VerifyPayload(payload, req.Signature, req.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditDomainDelete, meta, err)
		s.writeError(w, r, err)
		return
	}

	if err := s.store.DeleteCustomDomain(r.Context(), domainID, req.Pubkey, meta); err != nil {
		s.auditRejection(r, store.AuditDomainDelete, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.registry.Invalidate()
	s.metrics.recordWrite(store.AuditDomainDelete, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"id":     domainID,
	})
}

// handleDeleteSkill removes an unused custom skill, creator-signed.
func (s *Server) handleDeleteSkill(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domain")
	skillID := chi.URLParam(r, "skill")
	var req deleteTaxonomyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.Pubkey)

	accept := func() error {
		if err := s.validTaxonomyActor(req.Pubkey); err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionTaxonomy, req.Pubkey); err != nil {
			return err
		}
		payload := sigcheck.DeleteSkillPayload(domainID, skillID, req.Pubkey)
		return sigcheck.VerifyPayload(payload, req.Signature, req.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditSkillDelete, meta, err)
		s.writeError(w, r, err)
		return
	}

	if err := s.store.DeleteCustomSkill(r.Context(), domainID, skillID, req.Pubkey, meta); err != nil {
		s.auditRejection(r, store.AuditSkillDelete, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.registry.Invalidate()
	s.metrics.recordWrite(store.AuditSkillDelete, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"domain": domainID,
		"id":     skillID,
	})
}

func (s *Server) validTaxonomyActor(pubkey string) error {
	if !model.ValidPubkey(pubkey) {
		return model.NewError(model.KindValidation, "pubkey must be a valid ed25519 key")
	}
	return nil
}

func (s *Server) registryValidID(id string) bool {
	return id != "" && len(id) <= 50 && taxonomy.ValidID(id)
}
