package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kredo-protocol/kredo/canonical"
	"github.com/kredo-protocol/kredo/evidence"
	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/ratelimit"
	"github.com/kredo-protocol/kredo/sigcheck"
	"github.com/kredo-protocol/kredo/store"
)

// handleSubmitAttestation accepts a signed attestation: shape, taxonomy,
// rate limit, signature, expiry, evidence floor, then the store.
func (s *Server) handleSubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var att model.Attestation
	if err := decodeBody(r, &att); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, att.Attestor.Pubkey)

	if err := s.acceptAttestation(r, &att, meta); err != nil {
		s.auditRejection(r, store.AuditAttestationSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}

	score := evidence.ScoreAttestation(&att, time.Now())
	canonicalBytes, err := canonical.SignableBytes(&att)
	if err != nil {
		s.auditRejection(r, store.AuditAttestationSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}
	rec, err := s.store.InsertAttestation(r.Context(), &att, score, canonicalBytes, meta)
	if err != nil {
		s.auditRejection(r, store.AuditAttestationSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditAttestationSubmit, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status":         "accepted",
		"id":             rec.ID,
		"cid":            rec.CID,
		"evidence_score": rec.EvidenceScore,
	})
}

// acceptAttestation runs every gate before the insert.
func (s *Server) acceptAttestation(r *http.Request, att *model.Attestation, meta store.RequestMeta) error {
	if err := att.Validate(); err != nil {
		return err
	}
	if att.Skill != nil {
		if err := s.registry.ValidateSkill(r.Context(), att.Skill.Domain, att.Skill.Specific); err != nil {
			return err
		}
	}
	if err := s.allow(r, ratelimit.ActionAttestation, att.Attestor.Pubkey); err != nil {
		return err
	}
	if att.Signature == "" {
		return model.NewError(model.KindSignature, "attestation must be signed")
	}
	if err := sigcheck.VerifyDocument(att, att.Signature, att.Attestor.Pubkey); err != nil {
		return err
	}
	if att.Expired(time.Now()) {
		return model.NewError(model.KindValidation, "attestation has already expired")
	}
	if model.AttestationType(att.Type) == model.TypeWarning {
		score := evidence.ScoreAttestation(att, time.Now())
		if score.Composite < evidence.WarningCompositeFloor {
			return model.NewError(model.KindEvidence,
				"behavioral warnings require stronger evidence").
				WithDetail("composite", score.Composite).
				WithDetail("minimum", evidence.WarningCompositeFloor)
		}
	}
	return nil
}

func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	rec, disputes, err := s.store.Attestation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{"attestation": rec}
	if model.AttestationType(rec.Type) == model.TypeWarning {
		if disputes == nil {
			disputes = []store.DisputeRecord{}
		}
		body["disputes"] = disputes
	}
	s.writeJSON(w, http.StatusOK, body)
}

// handleVerify checks any signed document without storing it, detecting the
// type by shape: dispute, revocation, or attestation.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeRawBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docType := detectDocumentType(raw)
	if docType == "" {
		s.writeError(w, r, model.NewError(model.KindValidation,
			"cannot determine document type; expected attestation, revocation, or dispute fields"))
		return
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		s.writeError(w, r, model.WrapError(model.KindValidation, "malformed document", err))
		return
	}

	switch docType {
	case "attestation":
		var att model.Attestation
		if err := json.Unmarshal(encoded, &att); err != nil {
			s.writeError(w, r, model.WrapError(model.KindValidation, "malformed attestation", err))
			return
		}
		if err := att.Validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := sigcheck.VerifyDocument(&att, att.Signature, att.Attestor.Pubkey); err != nil {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"valid": false, "type": docType, "error": string(model.KindOf(err)),
			})
			return
		}
		score := evidence.ScoreAttestation(&att, time.Now())
		s.writeJSON(w, http.StatusOK, map[string]any{
			"valid":            true,
			"type":             docType,
			"attestation_type": att.Type,
			"subject":          att.Subject.Pubkey,
			"attestor":         att.Attestor.Pubkey,
			"expired":          att.Expired(time.Now()),
			"evidence_score":   score.Composite,
		})

	case "revocation":
		var rev model.Revocation
		if err := json.Unmarshal(encoded, &rev); err != nil {
			s.writeError(w, r, model.WrapError(model.KindValidation, "malformed revocation", err))
			return
		}
		if err := rev.Validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := sigcheck.VerifyDocument(&rev, rev.Signature, rev.Revoker.Pubkey); err != nil {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"valid": false, "type": docType, "error": string(model.KindOf(err)),
			})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"valid":          true,
			"type":           docType,
			"attestation_id": rev.AttestationID,
			"revoker":        rev.Revoker.Pubkey,
		})

	case "dispute":
		var d model.Dispute
		if err := json.Unmarshal(encoded, &d); err != nil {
			s.writeError(w, r, model.WrapError(model.KindValidation, "malformed dispute", err))
			return
		}
		if err := d.Validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := sigcheck.VerifyDocument(&d, d.Signature, d.Disputor.Pubkey); err != nil {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"valid": false, "type": docType, "error": string(model.KindOf(err)),
			})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"valid":      true,
			"type":       docType,
			"warning_id": d.WarningID,
			"disputor":   d.Disputor.Pubkey,
		})
	}
}

func detectDocumentType(raw map[string]any) string {
	_, hasWarningID := raw["warning_id"]
	_, hasDisputor := raw["disputor"]
	if hasWarningID && hasDisputor {
		return "dispute"
	}
	_, hasAttestationID := raw["attestation_id"]
	_, hasRevoker := raw["revoker"]
	if hasAttestationID && hasRevoker {
		return "revocation"
	}
	_, hasAttestor := raw["attestor"]
	_, hasSubject := raw["subject"]
	if hasAttestor && hasSubject {
		return "attestation"
	}
	return ""
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.SearchQuery{
		Subject:        q.Get("subject"),
		Attestor:       q.Get("attestor"),
		Domain:         q.Get("domain"),
		Skill:          q.Get("skill"),
		Type:           q.Get("type"),
		MinProficiency: queryInt(r, "min_proficiency", 0),
		IncludeRevoked: q.Get("include_revoked") == "true",
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	recs, total, err := s.store.SearchAttestations(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.AttestationRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"attestations": recs,
		"total":        total,
		"limit":        query.Limit,
		"offset":       query.Offset,
	})
}

// handleRevoke accepts a signed revocation of an existing attestation.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var rev model.Revocation
	if err := decodeBody(r, &rev); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, rev.Revoker.Pubkey)

	accept := func() error {
		if err := rev.Validate(); err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionRevocation, rev.Revoker.Pubkey); err != nil {
			return err
		}
		return sigcheck.VerifyDocument(&rev, rev.Signature, rev.Revoker.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditRevocationSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}

	rec, err := s.store.RevokeAttestation(r.Context(), &rev, meta)
	if err != nil {
		s.auditRejection(r, store.AuditRevocationSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditRevocationSubmit, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "revoked",
		"attestation_id": rec.ID,
		"revoked_at":     rec.RevokedAt,
	})
}

// handleDispute accepts a signed dispute against a behavioral warning.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var d model.Dispute
	if err := decodeBody(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta := requestMeta(r, d.Disputor.Pubkey)

	accept := func() error {
		if err := d.Validate(); err != nil {
			return err
		}
		if err := s.allow(r, ratelimit.ActionDispute, d.Disputor.Pubkey); err != nil {
			return err
		}
		return sigcheck.VerifyDocument(&d, d.Signature, d.Disputor.Pubkey)
	}
	if err := accept(); err != nil {
		s.auditRejection(r, store.AuditDisputeSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}

	rec, err := s.store.InsertDispute(r.Context(), &d, meta)
	if err != nil {
		s.auditRejection(r, store.AuditDisputeSubmit, meta, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.recordWrite(store.AuditDisputeSubmit, model.OutcomeAccepted)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status":      "accepted",
		"id":          rec.ID,
		"warning_id":  rec.WarningID,
		"accepted_at": rec.AcceptedAt,
	})
}
