package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/kredo-protocol/kredo/model"
)

// Integrity status labels surfaced with the traffic light.
const (
	LabelVerified               = "verified"
	LabelBaselineNotChecked     = "baseline_set_not_checked"
	LabelChangedSinceBaseline   = "changed_since_baseline"
	LabelBaselineChangedRecheck = "baseline_changed_recheck_required"
	LabelUnknownUnsigned        = "unknown_unsigned"
	LabelIntegrityUnknown       = "integrity_unknown"
)

// Recommended actions per traffic light.
const (
	ActionSafeToRun           = "safe_to_run"
	ActionOwnerReviewRequired = "owner_review_required"
	ActionBlockRun            = "block_run"
)

// IntegrityGate is the run-gate verdict derived from a traffic light.
type IntegrityGate struct {
	TrafficLight            string `json:"traffic_light"`
	StatusLabel             string `json:"status_label"`
	RecommendedAction       string `json:"recommended_action"`
	RequiresOwnerReapproval bool   `json:"requires_owner_reapproval"`
}

// GateFor maps a traffic light to its gate fields. hasBaseline and hasCheck
// pick the status label for the non-green lights.
func GateFor(light string, hasBaseline, hasCheck bool) IntegrityGate {
	switch light {
	case model.TrafficGreen:
		return IntegrityGate{model.TrafficGreen, LabelVerified, ActionSafeToRun, false}
	case model.TrafficYellow:
		label := LabelChangedSinceBaseline
		if !hasCheck {
			label = LabelBaselineNotChecked
		}
		return IntegrityGate{model.TrafficYellow, label, ActionOwnerReviewRequired, true}
	default:
		label := LabelIntegrityUnknown
		if !hasBaseline {
			label = LabelUnknownUnsigned
		}
		return IntegrityGate{model.TrafficRed, label, ActionBlockRun, true}
	}
}

// NormalizeManifest trims paths, lowercases digests, rejects duplicates and
// malformed entries, and returns the path-sorted manifest that both signing
// payloads and stored rows use.
func NormalizeManifest(in []model.FileHash) ([]model.FileHash, error) {
	if len(in) == 0 {
		return nil, model.NewError(model.KindValidation, "file_hashes must include at least one file")
	}
	if len(in) > 5000 {
		return nil, model.NewError(model.KindValidation, "file_hashes cannot exceed 5000 files")
	}
	seen := make(map[string]bool, len(in))
	out := make([]model.FileHash, 0, len(in))
	for _, fh := range in {
		path := strings.TrimSpace(fh.Path)
		if path == "" {
			return nil, model.NewError(model.KindValidation, "file path must not be empty")
		}
		if len(path) > 512 {
			return nil, model.NewError(model.KindValidation, "file path must be 512 characters or fewer")
		}
		if seen[path] {
			return nil, model.NewError(model.KindValidation, "duplicate path in file_hashes: "+path)
		}
		seen[path] = true
		digest := strings.ToLower(strings.TrimSpace(fh.SHA256))
		if !model.ValidSHA256(digest) {
			return nil, model.NewError(model.KindValidation, "sha256 must be 64 lowercase hex characters: "+path)
		}
		out = append(out, model.FileHash{Path: path, SHA256: digest})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// SetIntegrityBaseline stores an owner-approved manifest. The signer must be
// the agent's currently active owner; any previous active baseline becomes
// superseded.
func (s *Store) SetIntegrityBaseline(ctx context.Context, b model.IntegrityBaseline, meta RequestMeta) (model.IntegrityBaseline, error) {
	manifestJSON, err := json.Marshal(b.FileHashes)
	if err != nil {
		return model.IntegrityBaseline{}, internalErr("encode manifest", err)
	}
	err = s.withTx(ctx, []string{b.AgentPubkey, b.OwnerPubkey}, func(tx *sql.Tx) error {
		owner, err := activeOwner(ctx, tx, b.AgentPubkey)
		if err != nil {
			if model.IsKind(err, model.KindNotFound) {
				return model.NewError(model.KindPermission, "agent has no active human owner; link ownership first")
			}
			return err
		}
		if owner.HumanPubkey != b.OwnerPubkey {
			return model.NewError(model.KindPermission, "baseline must be approved by the active owner")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE integrity_baselines SET status = ? WHERE agent_pubkey = ? AND status = ?`,
			model.BaselineSuperseded, b.AgentPubkey, model.BaselineActive); err != nil {
			return internalErr("supersede baseline", err)
		}

		b.Status = model.BaselineActive
		b.SetAt = model.Now()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO integrity_baselines (baseline_id, agent_pubkey, owner_pubkey, manifest_json, owner_signature, set_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.BaselineID, b.AgentPubkey, b.OwnerPubkey, string(manifestJSON),
			b.OwnerSignature, b.SetAt, b.Status); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "baseline id already exists").
					WithDetail("reason", "duplicate_id").WithDetail("baseline_id", b.BaselineID)
			}
			return internalErr("insert baseline", err)
		}
		return insertAudit(ctx, tx, AuditBaselineSet, model.OutcomeAccepted, meta, map[string]any{
			"baseline_id": b.BaselineID, "agent": b.AgentPubkey, "owner": b.OwnerPubkey,
			"file_count": len(b.FileHashes),
		})
	})
	if err != nil {
		return model.IntegrityBaseline{}, err
	}
	return b, nil
}

// RecordIntegrityCheck stores an agent-signed measurement and the
// server-computed verdict against the active baseline. The diff never comes
// from the client.
func (s *Store) RecordIntegrityCheck(ctx context.Context, check model.IntegrityCheck, meta RequestMeta) (model.IntegrityCheck, error) {
	manifestJSON, err := json.Marshal(check.FileHashes)
	if err != nil {
		return model.IntegrityCheck{}, internalErr("encode manifest", err)
	}
	err = s.withTx(ctx, []string{check.AgentPubkey}, func(tx *sql.Tx) error {
		baseline, err := activeBaseline(ctx, tx, check.AgentPubkey)
		switch {
		case err == nil:
			check.BaselineID = baseline.BaselineID
			check.Diff = diffManifests(baseline.FileHashes, check.FileHashes)
			check.Status = trafficLight(check.Diff)
		case model.IsKind(err, model.KindNotFound):
			check.BaselineID = ""
			check.Diff = model.IntegrityDiff{}
			check.Status = model.TrafficRed
		default:
			return err
		}

		diffJSON, err := json.Marshal(check.Diff)
		if err != nil {
			return internalErr("encode diff", err)
		}
		check.CheckedAt = model.Now()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO integrity_checks (check_id, agent_pubkey, baseline_id, manifest_json, agent_signature, status, diff_json, checked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			check.CheckID, check.AgentPubkey, nullable(check.BaselineID), string(manifestJSON),
			check.AgentSignature, check.Status, string(diffJSON), check.CheckedAt); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "check id already exists").
					WithDetail("reason", "duplicate_id").WithDetail("check_id", check.CheckID)
			}
			return internalErr("insert integrity check", err)
		}
		return insertAudit(ctx, tx, AuditIntegrityCheck, model.OutcomeAccepted, meta, map[string]any{
			"check_id": check.CheckID, "agent": check.AgentPubkey, "status": check.Status,
		})
	})
	if err != nil {
		return model.IntegrityCheck{}, err
	}
	return check, nil
}

// diffManifests compares a measured manifest to the baseline. Paths in each
// list come out sorted.
func diffManifests(baseline, measured []model.FileHash) model.IntegrityDiff {
	base := make(map[string]string, len(baseline))
	for _, fh := range baseline {
		base[fh.Path] = fh.SHA256
	}
	meas := make(map[string]string, len(measured))
	for _, fh := range measured {
		meas[fh.Path] = fh.SHA256
	}

	var diff model.IntegrityDiff
	for path, digest := range meas {
		baseDigest, ok := base[path]
		switch {
		case !ok:
			diff.Added = append(diff.Added, path)
		case baseDigest != digest:
			diff.Changed = append(diff.Changed, path)
		}
	}
	for path := range base {
		if _, ok := meas[path]; !ok {
			diff.Removed = append(diff.Removed, path)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// trafficLight: green when the measurement matches the baseline exactly,
// yellow when the only divergence is added files, red as soon as any
// baseline file is changed or removed.
func trafficLight(diff model.IntegrityDiff) string {
	if len(diff.Changed) > 0 || len(diff.Removed) > 0 {
		return model.TrafficRed
	}
	if len(diff.Added) > 0 {
		return model.TrafficYellow
	}
	return model.TrafficGreen
}

// IntegrityStatus is the assembled run-gate state for an agent.
type IntegrityStatus struct {
	AgentPubkey string `json:"agent_pubkey"`
	IntegrityGate
	ActiveBaseline *model.IntegrityBaseline `json:"active_baseline,omitempty"`
	LatestCheck    *model.IntegrityCheck    `json:"latest_check,omitempty"`
}

// IntegrityStatusFor assembles the current gate for an agent: red with no
// baseline, yellow with a baseline but no (or stale) check, otherwise the
// latest check's own verdict.
func (s *Store) IntegrityStatusFor(ctx context.Context, agentPubkey string) (IntegrityStatus, error) {
	status := IntegrityStatus{AgentPubkey: agentPubkey}
	err := s.view(ctx, func(tx *sql.Tx) error {
		baseline, err := activeBaseline(ctx, tx, agentPubkey)
		hasBaseline := err == nil
		if err != nil && !model.IsKind(err, model.KindNotFound) {
			return err
		}
		check, err := latestCheck(ctx, tx, agentPubkey)
		hasCheck := err == nil
		if err != nil && !model.IsKind(err, model.KindNotFound) {
			return err
		}

		switch {
		case !hasBaseline:
			status.IntegrityGate = GateFor(model.TrafficRed, false, hasCheck)
		case !hasCheck:
			status.IntegrityGate = GateFor(model.TrafficYellow, true, false)
		case check.BaselineID != baseline.BaselineID:
			status.IntegrityGate = GateFor(model.TrafficYellow, true, true)
			status.StatusLabel = LabelBaselineChangedRecheck
		default:
			status.IntegrityGate = GateFor(check.Status, true, true)
		}
		if hasBaseline {
			status.ActiveBaseline = &baseline
		}
		if hasCheck {
			status.LatestCheck = &check
		}
		return nil
	})
	return status, err
}

func activeBaseline(ctx context.Context, tx *sql.Tx, agentPubkey string) (model.IntegrityBaseline, error) {
	var b model.IntegrityBaseline
	var manifestJSON string
	err := tx.QueryRowContext(ctx, `
SELECT baseline_id, agent_pubkey, owner_pubkey, manifest_json, owner_signature, set_at, status
FROM integrity_baselines WHERE agent_pubkey = ? AND status = ?`,
		agentPubkey, model.BaselineActive).
		Scan(&b.BaselineID, &b.AgentPubkey, &b.OwnerPubkey, &manifestJSON, &b.OwnerSignature, &b.SetAt, &b.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return b, model.NewError(model.KindNotFound, "no active baseline for agent")
	}
	if err != nil {
		return b, internalErr("read baseline", err)
	}
	if err := json.Unmarshal([]byte(manifestJSON), &b.FileHashes); err != nil {
		return b, internalErr("decode manifest", err)
	}
	return b, nil
}

func latestCheck(ctx context.Context, tx *sql.Tx, agentPubkey string) (model.IntegrityCheck, error) {
	var c model.IntegrityCheck
	var baselineID sql.NullString
	var manifestJSON, diffJSON string
	err := tx.QueryRowContext(ctx, `
SELECT check_id, agent_pubkey, baseline_id, manifest_json, agent_signature, status, diff_json, checked_at
FROM integrity_checks WHERE agent_pubkey = ?
ORDER BY checked_at DESC, check_id DESC LIMIT 1`, agentPubkey).
		Scan(&c.CheckID, &c.AgentPubkey, &baselineID, &manifestJSON, &c.AgentSignature, &c.Status, &diffJSON, &c.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, model.NewError(model.KindNotFound, "no integrity checks for agent")
	}
	if err != nil {
		return c, internalErr("read integrity check", err)
	}
	c.BaselineID = text(baselineID)
	if err := json.Unmarshal([]byte(manifestJSON), &c.FileHashes); err != nil {
		return c, internalErr("decode manifest", err)
	}
	if err := json.Unmarshal([]byte(diffJSON), &c.Diff); err != nil {
		return c, internalErr("decode diff", err)
	}
	return c, nil
}
