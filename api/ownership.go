package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/sigcheck"
	"github.com/kredo-protocol/kredo/store"
)

type ownershipClaimRequest struct {
	ClaimID        string `json:"claim_id"`
	AgentPubkey    string `json:"agent_pubkey"`
	HumanPubkey    string `json:"human_pubkey"`
	AgentSignature string `json:"agent_signature"`
}

// handleOwnershipClaim starts a pending agent→human link, signed by the
// agent. claim_id is client-provided or generated here.
func (s *Server) handleOwnershipClaim(w http.ResponseWriter, r *http.Request) {
	var req ownershipClaimRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ClaimID == "" {
		req.ClaimID = uuid.NewString()
	}
	meta := requestMeta(r, req.AgentPubkey)

	accept := func() error {
		if !model.ValidPubkey(req.AgentPubkey) || !model.ValidPubkey(req.HumanPubkey) {
			return model.NewError(model.KindValidation, "agent_pubkey and human_pubkey must be valid ed25519 keys")
		}
		if !model.ValidOpaqueID(req.ClaimID) {
			return model.NewError(model.KindValidation, "claim_id must be a printable identifier")
		}
		if err := s.allow(r, ratelimit.ActionOwnership, req.AgentPubkey); err != nil {
			return err
		}
		payload := sigcheck.OwnershipClaimPayload(req.ClaimID, req.AgentPubkey, req.HumanPubkey)
		return sigcheck.VerifyPayload(payload, req.AgentSignature, req.AgentPubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditOwnershipClaim, meta, err)
		s.writeError(w, r, err)
		return
	}

	claim, err := s.store.CreateOwnershipClaim(r.Context(), model.OwnershipClaim{
		ClaimID:        req.ClaimID,
		AgentPubkey:    req.AgentPubkey,
		HumanPubkey:    req.HumanPubkey,
		ClaimSignature: req.AgentSignature,
	}, meta)
	if err != nil {
		s.auditRejection(r, store.AuditOwnershipClaim, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditOwnershipClaim, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "pending",
		"claim":  claim,
	})
}

type ownershipConfirmRequest struct {
	ClaimID        string `json:"claim_id"`
	AgentPubkey    string `json:"agent_pubkey"`
	HumanPubkey    string `json:"human_pubkey"`
	HumanSignature string `json:"human_signature"`
}

// handleOwnershipConfirm moves a pending claim to active, signed by the
// human named in it.
func (s *Server) handleOwnershipConfirm(w http.ResponseWriter, r *http.Request) {
	var req ownershipConfirmRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.HumanPubkey)

	accept := func() error {
		if !model.ValidPubkey(req.HumanPubkey) {
			return model.NewError(model.KindValidation, "human_pubkey must be a valid ed25519 key")
		}
		if err := s.allow(r, ratelimit.ActionOwnership, req.HumanPubkey); err != nil {
			return err
		}
		payload := sigcheck.OwnershipConfirmPayload(req.ClaimID, req.AgentPubkey, req.HumanPubkey)
		return sigcheck.VerifyPayload(payload, req.HumanSignature, req.HumanPubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditOwnershipConfirm, meta, err)
		s.writeError(w, r, err)
		return
	}

	claim, err := s.store.ConfirmOwnershipClaim(r.Context(), req.ClaimID, req.HumanPubkey, req.HumanSignature, meta)
	if err != nil {
		s.auditRejection(r, store.AuditOwnershipConfirm, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditOwnershipConfirm, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "active",
		"claim":  claim,
	})
}

type ownershipRevokeRequest struct {
	ClaimID       string `json:"claim_id"`
	AgentPubkey   string `json:"agent_pubkey"`
	HumanPubkey   string `json:"human_pubkey"`
	RevokerPubkey string `json:"revoker_pubkey"`
	Reason        string `json:"reason"`
	Signature     string `json:"signature"`
}

// handleOwnershipRevoke ends an active link; either linked party may sign.
func (s *Server) handleOwnershipRevoke(w http.ResponseWriter, r *http.Request) {
	var req ownershipRevokeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, req.RevokerPubkey)

	accept := func() error {
		if !model.ValidPubkey(req.RevokerPubkey) {
			return model.NewError(model.KindValidation, "revoker_pubkey must be a valid ed25519 key")
		}
		if err := s.allow(r, ratelimit.ActionOwnership, req.RevokerPubkey); err != nil {
			return err
		}
		payload := sigcheck.OwnershipRevokePayload(req.ClaimID, req.AgentPubkey, req.HumanPubkey, req.RevokerPubkey, req.Reason)
		return sigcheck.VerifyPayload(payload, req.Signature, req.RevokerPubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditOwnershipRevoke, meta, err)
		s.writeError(w, r, err)
		return
	}

	claim, err := s.store.RevokeOwnershipClaim(r.Context(), req.ClaimID, req.RevokerPubkey, req.Reason, meta)
	if err != nil {
		s.auditRejection(r, store.AuditOwnershipRevoke, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditOwnershipRevoke, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "revoked",
		"claim":  claim,
	})
}

func (s *Server) handleOwnershipHistory(w http.ResponseWriter, r *http.Request) {
	pubkey := chi.URLParam(r, "pubkey")
	claims, err := s.store.OwnershipHistory(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []model.OwnershipClaim{}
	}
	body := map[string]any{
		"agent_pubkey": pubkey,
		"claims":       claims,
	}
	if owner, err := s.store.ActiveOwner(r.Context(), pubkey); err == nil {
		body["active_owner"] = owner
	}
	s.writeJSON(w, http.StatusOK, body)
}
