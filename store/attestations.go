package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kredo-protocol/kredo/cidutil"
	"github.com/kredo-protocol/kredo/evidence"
	"github.com/kredo-protocol/kredo/model"
)

// AttestationRecord is an accepted attestation plus its server-derived
// state: the evidence score computed at accept time, revocation state, the
// pin-index CID of its canonical bytes, and the accept timestamp.
type AttestationRecord struct {
	model.Attestation
	EvidenceScore evidence.Score `json:"evidence_score"`
	RevokedAt     string         `json:"revoked_at,omitempty"`
	RevokerPubkey string         `json:"revoker_pubkey,omitempty"`
	CID           string         `json:"cid,omitempty"`
	AcceptedAt    string         `json:"accepted_at"`
}

// Revoked reports whether a revocation has been accepted for this record.
func (r *AttestationRecord) Revoked() bool { return r.RevokedAt != "" }

// InsertAttestation accepts a validated, signature-verified attestation.
// canonicalBytes are the signable bytes the signature was checked against;
// their CID goes into the pin index in the same transaction.
func (s *Store) InsertAttestation(ctx context.Context, a *model.Attestation, score evidence.Score, canonicalBytes []byte, meta RequestMeta) (AttestationRecord, error) {
	rawJSON, err := json.Marshal(a)
	if err != nil {
		return AttestationRecord{}, internalErr("encode attestation", err)
	}
	artifactsJSON, err := json.Marshal(a.Evidence.Artifacts)
	if err != nil {
		return AttestationRecord{}, internalErr("encode artifacts", err)
	}
	docCID := cidutil.DocumentCID(canonicalBytes)

	rec := AttestationRecord{Attestation: *a, EvidenceScore: score, CID: docCID}
	touched := []string{a.Subject.Pubkey, a.Attestor.Pubkey}
	err = s.withTx(ctx, touched, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attestations WHERE id = ?`, a.ID).Scan(&exists); err != nil {
			return internalErr("check attestation id", err)
		}
		if exists > 0 {
			return model.NewError(model.KindConflict, "attestation id already exists").
				WithDetail("reason", "duplicate_id").WithDetail("id", a.ID)
		}

		var domain, specific, warningCategory any
		var proficiency any
		if a.Skill != nil {
			domain, specific, proficiency = a.Skill.Domain, a.Skill.Specific, a.Skill.Proficiency
		}
		if a.WarningCategory != "" {
			warningCategory = a.WarningCategory
		}
		now := model.Now()
		rec.AcceptedAt = now
		_, err := tx.ExecContext(ctx, `
INSERT INTO attestations (
    id, type, attestor_pubkey, attestor_name, attestor_type,
    subject_pubkey, subject_name, domain, specific_skill, proficiency,
    warning_category, evidence_context, evidence_artifacts, evidence_outcome,
    evidence_interaction_date, score_specificity, score_verifiability,
    score_relevance, score_recency, score_composite,
    issued, expires, signature, raw_json, accepted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Type, a.Attestor.Pubkey, a.Attestor.Name, a.Attestor.Type,
			a.Subject.Pubkey, a.Subject.Name, domain, specific, proficiency,
			warningCategory, a.Evidence.Context, string(artifactsJSON), a.Evidence.Outcome,
			nullable(a.Evidence.InteractionDate), score.Specificity, score.Verifiability,
			score.Relevance, score.Recency, score.Composite,
			a.Issued, a.Expires, a.Signature, string(rawJSON), now)
		if err != nil {
			return internalErr("insert attestation", err)
		}

		if err := noteKnownKey(ctx, tx, a.Attestor.Pubkey, a.Attestor.Name, a.Attestor.Type); err != nil {
			return err
		}
		if err := noteKnownKey(ctx, tx, a.Subject.Pubkey, a.Subject.Name, string(model.TypeAgent)); err != nil {
			return err
		}
		if err := insertPin(ctx, tx, docCID, a.ID, "attestation"); err != nil {
			return err
		}
		return insertAudit(ctx, tx, AuditAttestationSubmit, model.OutcomeAccepted, meta, map[string]any{
			"id": a.ID, "type": a.Type,
			"subject": a.Subject.Pubkey, "attestor": a.Attestor.Pubkey,
			"cid": docCID,
		})
	})
	if err != nil {
		return AttestationRecord{}, err
	}
	return rec, nil
}

// RevokeAttestation accepts a validated, signature-verified revocation.
// Only the original attestor may revoke, and only once.
func (s *Store) RevokeAttestation(ctx context.Context, rev *model.Revocation, meta RequestMeta) (AttestationRecord, error) {
	rawJSON, err := json.Marshal(rev)
	if err != nil {
		return AttestationRecord{}, internalErr("encode revocation", err)
	}
	var rec AttestationRecord
	var touched []string
	err = s.withTx(ctx, nil, func(tx *sql.Tx) error {
		target, err := getAttestation(ctx, tx, rev.AttestationID)
		if err != nil {
			return err
		}
		if target.Attestor.Pubkey != rev.Revoker.Pubkey {
			return model.NewError(model.KindPermission, "only the original attestor may revoke")
		}
		if target.Revoked() {
			return model.NewError(model.KindConflict, "attestation already revoked").
				WithDetail("revoked_at", target.RevokedAt)
		}

		now := model.Now()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO revocations (id, attestation_id, revoker_pubkey, reason, issued, signature, raw_json, accepted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rev.ID, rev.AttestationID, rev.Revoker.Pubkey, rev.Reason, rev.Issued, rev.Signature, string(rawJSON), now); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "revocation id already exists").
					WithDetail("reason", "duplicate_id").WithDetail("id", rev.ID)
			}
			return internalErr("insert revocation", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attestations SET revoked_at = ?, revoker_pubkey = ? WHERE id = ?`,
			now, rev.Revoker.Pubkey, rev.AttestationID); err != nil {
			return internalErr("mark attestation revoked", err)
		}
		target.RevokedAt, target.RevokerPubkey = now, rev.Revoker.Pubkey
		rec = target
		touched = []string{target.Subject.Pubkey, target.Attestor.Pubkey}
		return insertAudit(ctx, tx, AuditRevocationSubmit, model.OutcomeAccepted, meta, map[string]any{
			"id": rev.ID, "attestation_id": rev.AttestationID, "revoker": rev.Revoker.Pubkey,
		})
	})
	if err != nil {
		return AttestationRecord{}, err
	}
	s.notify(touched)
	return rec, nil
}

// DisputeRecord is an accepted dispute row.
type DisputeRecord struct {
	model.Dispute
	AcceptedAt string `json:"accepted_at"`
}

// InsertDispute accepts a validated, signature-verified dispute. The target
// must be a behavioral warning and the disputor its subject.
func (s *Store) InsertDispute(ctx context.Context, d *model.Dispute, meta RequestMeta) (DisputeRecord, error) {
	rawJSON, err := json.Marshal(d)
	if err != nil {
		return DisputeRecord{}, internalErr("encode dispute", err)
	}
	rec := DisputeRecord{Dispute: *d}
	var touched []string
	err = s.withTx(ctx, nil, func(tx *sql.Tx) error {
		target, err := getAttestation(ctx, tx, d.WarningID)
		if err != nil {
			return err
		}
		if model.AttestationType(target.Type) != model.TypeWarning {
			return model.NewError(model.KindValidation, "disputes only apply to behavioral warnings")
		}
		if target.Subject.Pubkey != d.Disputor.Pubkey {
			return model.NewError(model.KindPermission, "only the warning's subject may dispute it")
		}

		now := model.Now()
		rec.AcceptedAt = now
		if _, err := tx.ExecContext(ctx, `
INSERT INTO disputes (id, warning_id, disputor_pubkey, response, issued, signature, raw_json, accepted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.WarningID, d.Disputor.Pubkey, d.Response, d.Issued, d.Signature, string(rawJSON), now); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "dispute id already exists").
					WithDetail("reason", "duplicate_id").WithDetail("id", d.ID)
			}
			return internalErr("insert dispute", err)
		}
		touched = []string{target.Subject.Pubkey, target.Attestor.Pubkey}
		return insertAudit(ctx, tx, AuditDisputeSubmit, model.OutcomeAccepted, meta, map[string]any{
			"id": d.ID, "warning_id": d.WarningID, "disputor": d.Disputor.Pubkey,
		})
	})
	if err != nil {
		return DisputeRecord{}, err
	}
	s.notify(touched)
	return rec, nil
}

// Attestation returns a single record by id, plus its disputes if it is a
// warning.
func (s *Store) Attestation(ctx context.Context, id string) (AttestationRecord, []DisputeRecord, error) {
	var rec AttestationRecord
	var disputes []DisputeRecord
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = getAttestation(ctx, tx, id)
		if err != nil {
			return err
		}
		if model.AttestationType(rec.Type) == model.TypeWarning {
			disputes, err = disputesFor(ctx, tx, id)
		}
		return err
	})
	if err != nil {
		return AttestationRecord{}, nil, err
	}
	return rec, disputes, nil
}

// SearchQuery filters attestation listings. All filters are pushed into the
// SQL query; results are ordered issued DESC, id ASC.
type SearchQuery struct {
	Subject        string
	Attestor       string
	Domain         string
	Skill          string
	Type           string
	MinProficiency int
	IncludeRevoked bool
	Limit          int
	Offset         int
}

// SearchAttestations lists matching records and the total match count.
func (s *Store) SearchAttestations(ctx context.Context, q SearchQuery) ([]AttestationRecord, int, error) {
	where := []string{"1=1"}
	var args []any
	add := func(cond string, val any) {
		where = append(where, cond)
		args = append(args, val)
	}
	if q.Subject != "" {
		add("subject_pubkey = ?", q.Subject)
	}
	if q.Attestor != "" {
		add("attestor_pubkey = ?", q.Attestor)
	}
	if q.Domain != "" {
		add("domain = ?", q.Domain)
	}
	if q.Skill != "" {
		add("specific_skill = ?", q.Skill)
	}
	if q.Type != "" {
		add("type = ?", q.Type)
	}
	if q.MinProficiency > 0 {
		add("proficiency >= ?", q.MinProficiency)
	}
	if !q.IncludeRevoked {
		where = append(where, "revoked_at IS NULL")
	}
	cond := strings.Join(where, " AND ")

	limit := clamp(q.Limit, 1, 200)
	if q.Limit == 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var out []AttestationRecord
	var total int
	err := s.view(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM attestations WHERE %s`, cond), args...).Scan(&total); err != nil {
			return internalErr("count attestations", err)
		}
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM attestations WHERE %s
ORDER BY issued DESC, id ASC LIMIT ? OFFSET ?`, attestationColumns, cond),
			append(append([]any{}, args...), limit, offset)...)
		if err != nil {
			return internalErr("search attestations", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanAttestation(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, total, err
}

// Edge is one attestor→subject edge for ring analysis.
type Edge struct {
	Attestor string
	Subject  string
}

// Edges lists attestor→subject edges over all non-revoked attestations.
func (s *Store) Edges(ctx context.Context) ([]Edge, error) {
	var out []Edge
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT attestor_pubkey, subject_pubkey FROM attestations WHERE revoked_at IS NULL`)
		if err != nil {
			return internalErr("list edges", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e Edge
			if err := rows.Scan(&e.Attestor, &e.Subject); err != nil {
				return internalErr("scan edge", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// ActiveAttestations lists every non-revoked attestation. The trust engine
// evaluates over this snapshot; expiry is applied there against now-time.
func (s *Store) ActiveAttestations(ctx context.Context) ([]AttestationRecord, error) {
	var out []AttestationRecord
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM attestations WHERE revoked_at IS NULL`, attestationColumns))
		if err != nil {
			return internalErr("list active attestations", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanAttestation(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// AttestorLink summarizes one attestor's relationship to a subject.
// OwnAttestationCount is how many non-revoked attestations the attestor has
// issued overall, a quick fan-out signal for profile readers.
type AttestorLink struct {
	Pubkey              string `json:"pubkey"`
	Type                string `json:"type"`
	Count               int    `json:"attestation_count_for_subject"`
	OwnAttestationCount int    `json:"attestor_own_attestation_count"`
}

// WhoAttested lists attestors of non-revoked attestations for subject.
func (s *Store) WhoAttested(ctx context.Context, subject string) ([]AttestorLink, error) {
	var out []AttestorLink
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = attestorLinks(ctx, tx, subject)
		return err
	})
	return out, err
}

// AttestedBy lists non-revoked attestations signed by attestor.
func (s *Store) AttestedBy(ctx context.Context, attestor string) ([]AttestationRecord, error) {
	recs, _, err := s.SearchAttestations(ctx, SearchQuery{Attestor: attestor, Limit: 200})
	return recs, err
}

func attestorLinks(ctx context.Context, tx *sql.Tx, subject string) ([]AttestorLink, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT a.attestor_pubkey,
       COALESCE(k.type, a.attestor_type),
       COUNT(*),
       (SELECT COUNT(*) FROM attestations o
        WHERE o.attestor_pubkey = a.attestor_pubkey AND o.revoked_at IS NULL)
FROM attestations a
LEFT JOIN known_keys k ON k.pubkey = a.attestor_pubkey
WHERE a.subject_pubkey = ? AND a.revoked_at IS NULL
GROUP BY a.attestor_pubkey
ORDER BY COUNT(*) DESC, a.attestor_pubkey ASC`, subject)
	if err != nil {
		return nil, internalErr("list attestors", err)
	}
	defer rows.Close()
	var out []AttestorLink
	for rows.Next() {
		var l AttestorLink
		if err := rows.Scan(&l.Pubkey, &l.Type, &l.Count, &l.OwnAttestationCount); err != nil {
			return nil, internalErr("scan attestor link", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const attestationColumns = `
    id, type, attestor_pubkey, attestor_name, attestor_type,
    subject_pubkey, subject_name, domain, specific_skill, proficiency,
    warning_category, evidence_context, evidence_artifacts, evidence_outcome,
    evidence_interaction_date, score_specificity, score_verifiability,
    score_relevance, score_recency, score_composite,
    issued, expires, signature, revoked_at, revoker_pubkey, accepted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttestation(row rowScanner) (AttestationRecord, error) {
	var rec AttestationRecord
	var domain, specific, warningCategory, interaction, revokedAt, revoker sql.NullString
	var proficiency sql.NullInt64
	var artifactsJSON string
	err := row.Scan(
		&rec.ID, &rec.Type, &rec.Attestor.Pubkey, &rec.Attestor.Name, &rec.Attestor.Type,
		&rec.Subject.Pubkey, &rec.Subject.Name, &domain, &specific, &proficiency,
		&warningCategory, &rec.Evidence.Context, &artifactsJSON, &rec.Evidence.Outcome,
		&interaction, &rec.EvidenceScore.Specificity, &rec.EvidenceScore.Verifiability,
		&rec.EvidenceScore.Relevance, &rec.EvidenceScore.Recency, &rec.EvidenceScore.Composite,
		&rec.Issued, &rec.Expires, &rec.Signature, &revokedAt, &revoker, &rec.AcceptedAt)
	if err != nil {
		return rec, internalErr("scan attestation", err)
	}
	rec.Kredo = model.KredoVersion
	if domain.Valid {
		rec.Skill = &model.Skill{Domain: domain.String, Specific: text(specific), Proficiency: int(proficiency.Int64)}
	}
	rec.WarningCategory = text(warningCategory)
	rec.Evidence.InteractionDate = text(interaction)
	rec.RevokedAt = text(revokedAt)
	rec.RevokerPubkey = text(revoker)
	if err := json.Unmarshal([]byte(artifactsJSON), &rec.Evidence.Artifacts); err != nil {
		return rec, internalErr("decode artifacts", err)
	}
	return rec, nil
}

func getAttestation(ctx context.Context, tx *sql.Tx, id string) (AttestationRecord, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM attestations WHERE id = ?`, attestationColumns), id)
	rec, err := scanAttestation(row)
	if err != nil {
		var e *model.Error
		if errors.As(err, &e) && errors.Is(e.Cause, sql.ErrNoRows) {
			return rec, model.NewError(model.KindNotFound, "unknown attestation id: "+id)
		}
		return rec, err
	}
	return rec, nil
}

func disputesFor(ctx context.Context, tx *sql.Tx, warningID string) ([]DisputeRecord, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT id, warning_id, disputor_pubkey, response, issued, signature, raw_json, accepted_at
FROM disputes WHERE warning_id = ? ORDER BY accepted_at ASC, id ASC`, warningID)
	if err != nil {
		return nil, internalErr("list disputes", err)
	}
	defer rows.Close()
	var out []DisputeRecord
	for rows.Next() {
		var rec DisputeRecord
		var rawJSON string
		if err := rows.Scan(&rec.ID, &rec.WarningID, &rec.Disputor.Pubkey, &rec.Response,
			&rec.Issued, &rec.Signature, &rawJSON, &rec.AcceptedAt); err != nil {
			return nil, internalErr("scan dispute", err)
		}
		rec.Kredo = model.KredoVersion
		// Disputor name only lives in the raw document.
		var full model.Dispute
		if json.Unmarshal([]byte(rawJSON), &full) == nil {
			rec.Disputor.Name = full.Disputor.Name
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
