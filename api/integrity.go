package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/sigcheck"
	"github.com/kredo-protocol/kredo/store"
	"github.com/kredo-protocol/kredo/trust"
)

type setBaselineRequest struct {
	BaselineID     string           `json:"baseline_id"`
	AgentPubkey    string           `json:"agent_pubkey"`
	OwnerPubkey    string           `json:"owner_pubkey"`
	FileHashes     []model.FileHash `json:"file_hashes"`
	OwnerSignature string           `json:"owner_signature"`
}

// handleSetBaseline stores an owner-approved file manifest. The signature
// covers the normalized (sorted) manifest.
func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	var req setBaselineRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.OwnerPubkey)

	var manifest []model.FileHash
	accept := func() error {
		if !model.ValidPubkey(req.AgentPubkey) || !model.ValidPubkey(req.OwnerPubkey) {
			return model.NewError(model.KindValidation, "agent_pubkey and owner_pubkey must be valid ed25519 keys")
		}
		if !model.ValidOpaqueID(req.BaselineID) {
			return model.NewError(model.KindValidation, "baseline_id must be a printable identifier")
		}
		var err error
		manifest, err = store.NormalizeManifest(req.FileHashes)
		if err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionIntegrity, req.OwnerPubkey); err != nil {
			return err
		}
		payload := sigcheck.IntegrityBaselinePayload(req.BaselineID, req.AgentPubkey, req.OwnerPubkey, manifest)
		return sigcheck.VerifyPayload(payload, req.OwnerSignature, req.OwnerPubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditBaselineSet, meta, err)
		s.writeError(w, r, err)
		return
	}

	baseline, err := s.store.SetIntegrityBaseline(r.Context(), model.IntegrityBaseline{
		BaselineID:     req.BaselineID,
		AgentPubkey:    req.AgentPubkey,
		OwnerPubkey:    req.OwnerPubkey,
		FileHashes:     manifest,
		OwnerSignature: req.OwnerSignature,
	}, meta)
	if err != nil {
		s.auditRejection(r, store.AuditBaselineSet, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditBaselineSet, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "baseline_set",
		"baseline": baseline,
	})
}

type integrityCheckRequest struct {
	CheckID        string           `json:"check_id"`
	AgentPubkey    string           `json:"agent_pubkey"`
	FileHashes     []model.FileHash `json:"file_hashes"`
	AgentSignature string           `json:"agent_signature"`
}

// handleIntegrityCheck stores an agent-signed measurement; the verdict and
// diff are computed server-side against the active baseline.
func (s *Server) handleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	var req integrityCheckRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.CheckID == "" {
		req.CheckID = uuid.NewString()
	}
	meta := requestMeta(r, req.AgentPubkey)

	var manifest []model.FileHash
	accept := func() error {
		if !model.ValidPubkey(req.AgentPubkey) {
			return model.NewError(model.KindValidation, "agent_pubkey must be a valid ed25519 key")
		}
		var err error
		manifest, err = store.NormalizeManifest(req.FileHashes)
		if err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionIntegrity, req.AgentPubkey); err != nil {
			return err
		}
		payload := sigcheck.IntegrityCheckPayload(req.AgentPubkey, manifest)
		return sigcheck.VerifyPayload(payload, req.AgentSignature, req.AgentPubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditIntegrityCheck, meta, err)
		s.writeError(w, r, err)
		return
	}

	check, err := s.store.RecordIntegrityCheck(r.Context(), model.IntegrityCheck{
		CheckID:        req.CheckID,
		AgentPubkey:    req.AgentPubkey,
		FileHashes:     manifest,
		AgentSignature: req.AgentSignature,
	}, meta)
	if err != nil {
		s.auditRejection(r, store.AuditIntegrityCheck, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditIntegrityCheck, model.OutcomeAccepted)
	gate := store.GateFor(check.Status, check.BaselineID != "", true)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status":             "recorded",
		"check_id":           check.CheckID,
		"baseline_id":        check.BaselineID,
		"traffic_light":      check.Status,
		"diff":               check.Diff,
		"recommended_action": gate.RecommendedAction,
	})
}

func (s *Server) handleIntegrityStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.IntegrityStatusFor(r.Context(), chi.URLParam(r, "pubkey"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agent_pubkey":              status.AgentPubkey,
		"traffic_light":             status.TrafficLight,
		"status_label":              status.StatusLabel,
		"recommended_action":        status.RecommendedAction,
		"requires_owner_reapproval": status.RequiresOwnerReapproval,
		"multiplier":                trust.IntegrityMultiplier(status.TrafficLight),
		"active_baseline":           status.ActiveBaseline,
		"latest_check":              status.LatestCheck,
	})
}
