package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/kredo-protocol/kredo/model"
)

// Audit actions, dotted <area>.<operation>.
const (
	AuditRegistrationCreate = "registration.create"
	AuditRegistrationUpdate = "registration.update"
	AuditAttestationSubmit  = "attestation.submit"
	AuditRevocationSubmit   = "revocation.submit"
	AuditDisputeSubmit      = "dispute.submit"
	AuditOwnershipClaim     = "ownership.claim"
	AuditOwnershipConfirm   = "ownership.confirm"
	AuditOwnershipRevoke    = "ownership.revoke"
	AuditBaselineSet        = "integrity.baseline.set"
	AuditIntegrityCheck     = "integrity.check"
	AuditDomainCreate       = "taxonomy.domain.create"
	AuditDomainDelete       = "taxonomy.domain.delete"
	AuditSkillCreate        = "taxonomy.skill.create"
	AuditSkillDelete        = "taxonomy.skill.delete"
)

// RequestMeta carries the request-scoped fields recorded on audit rows.
type RequestMeta struct {
	ActorPubkey string
	SourceIP    string
	UserAgent   string
}

// HashIP returns the first 24 hex characters of sha256(ip), the anonymized
// grouping key used by the anomaly endpoint. Empty in, empty out.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:24]
}

func insertAudit(ctx context.Context, tx *sql.Tx, action, outcome string, meta RequestMeta, details map[string]any) error {
	var detailsJSON any
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return internalErr("encode audit details", err)
		}
		detailsJSON = string(b)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO audit_events (timestamp, action, outcome, actor_pubkey, source_ip, source_ip_hash, user_agent, details_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model.Now(), action, outcome,
		nullable(meta.ActorPubkey), nullable(meta.SourceIP), nullable(HashIP(meta.SourceIP)),
		nullable(meta.UserAgent), detailsJSON)
	if err != nil {
		return internalErr("insert audit event", err)
	}
	return nil
}

// AppendAudit records an audit row outside any document transaction. Used
// for rejected writes, where there is no state change to share a transaction
// with.
func (s *Store) AppendAudit(ctx context.Context, action, outcome string, meta RequestMeta, details map[string]any) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		return insertAudit(ctx, tx, action, outcome, meta, details)
	})
}

// SourceAnomaly is one clustered source row from the anomaly query.
type SourceAnomaly struct {
	SourceIPHash      string `json:"source_ip_hash"`
	SampleIP          string `json:"sample_ip"`
	EventCount        int    `json:"event_count"`
	UniqueActorCount  int    `json:"unique_actor_count"`
	ActionTypeCount   int    `json:"action_type_count"`
	RegistrationCount int    `json:"registration_count"`
	AttestationCount  int    `json:"attestation_count"`
	LastSeen          string `json:"last_seen"`
}

// SourceAnomalies clusters recent audit events by hashed source IP and
// returns sources with suspicious fan-out. Parameters are clamped: hours to
// [1, 720], limit to [1, 500], floors to at least 1.
func (s *Store) SourceAnomalies(ctx context.Context, hours, minEvents, minUniqueActors, limit int) ([]SourceAnomaly, error) {
	hours = clamp(hours, 1, 24*30)
	minEvents = clamp(minEvents, 1, 1<<30)
	minUniqueActors = clamp(minUniqueActors, 1, 1<<30)
	limit = clamp(limit, 1, 500)

	cutoff := model.Now()
	if t, err := model.ParseTime(cutoff); err == nil {
		cutoff = model.FormatTime(t.Add(-time.Duration(hours) * time.Hour))
	}

	var out []SourceAnomaly
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT source_ip_hash,
       MIN(COALESCE(source_ip, '')) AS sample_ip,
       COUNT(*) AS event_count,
       COUNT(DISTINCT COALESCE(actor_pubkey, '')) AS unique_actor_count,
       COUNT(DISTINCT action) AS action_type_count,
       SUM(CASE WHEN action = ? THEN 1 ELSE 0 END) AS registration_count,
       SUM(CASE WHEN action = ? THEN 1 ELSE 0 END) AS attestation_count,
       MAX(timestamp) AS last_seen
FROM audit_events
WHERE timestamp >= ? AND source_ip_hash IS NOT NULL
GROUP BY source_ip_hash
HAVING COUNT(*) >= ? AND COUNT(DISTINCT COALESCE(actor_pubkey, '')) >= ?
ORDER BY event_count DESC, unique_actor_count DESC
LIMIT ?`,
			AuditRegistrationCreate, AuditAttestationSubmit,
			cutoff, minEvents, minUniqueActors, limit)
		if err != nil {
			return internalErr("query source anomalies", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a SourceAnomaly
			if err := rows.Scan(&a.SourceIPHash, &a.SampleIP, &a.EventCount, &a.UniqueActorCount,
				&a.ActionTypeCount, &a.RegistrationCount, &a.AttestationCount, &a.LastSeen); err != nil {
				return internalErr("scan source anomaly", err)
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
