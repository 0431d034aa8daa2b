package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kredo-protocol/kredo/model"
)

// CreateOwnershipClaim records a pending agent→human link. The agent key
// must be a known agent, the human key a known human, and the agent must not
// already have an active claim. An earlier pending claim is abandoned: it
// moves to the terminal pending-expired status and the new claim replaces it.
func (s *Store) CreateOwnershipClaim(ctx context.Context, claim model.OwnershipClaim, meta RequestMeta) (model.OwnershipClaim, error) {
	touched := []string{claim.AgentPubkey, claim.HumanPubkey}
	err := s.withTx(ctx, touched, func(tx *sql.Tx) error {
		agent, err := getKnownKey(ctx, tx, claim.AgentPubkey)
		if err != nil {
			return err
		}
		if agent.Type != string(model.TypeAgent) {
			return model.NewError(model.KindValidation, "agent_pubkey is not registered as an agent")
		}
		human, err := getKnownKey(ctx, tx, claim.HumanPubkey)
		if err != nil {
			return err
		}
		if human.Type != string(model.TypeHuman) {
			return model.NewError(model.KindValidation, "human_pubkey is not registered as a human")
		}

		var status string
		err = tx.QueryRowContext(ctx, `
SELECT status FROM ownership_links
WHERE agent_pubkey = ? AND status = ?
LIMIT 1`, claim.AgentPubkey, model.OwnershipActive).Scan(&status)
		switch {
		case err == nil:
			return model.NewError(model.KindConflict,
				"agent already has an active ownership claim").
				WithDetail("reason", "ownership_conflict").WithDetail("current_status", status)
		case !errors.Is(err, sql.ErrNoRows):
			return internalErr("check existing claims", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE ownership_links SET status = ?
WHERE agent_pubkey = ? AND status = ?`,
			model.OwnershipPendingExpired, claim.AgentPubkey, model.OwnershipPending); err != nil {
			return internalErr("expire pending claims", err)
		}

		claim.Status = model.OwnershipPending
		claim.ClaimedAt = model.Now()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ownership_links (claim_id, agent_pubkey, human_pubkey, status, agent_signature, claimed_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			claim.ClaimID, claim.AgentPubkey, claim.HumanPubkey, claim.Status,
			claim.ClaimSignature, claim.ClaimedAt); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "claim id already exists").
					WithDetail("reason", "duplicate_id").WithDetail("claim_id", claim.ClaimID)
			}
			return internalErr("insert ownership claim", err)
		}
		return insertAudit(ctx, tx, AuditOwnershipClaim, model.OutcomeAccepted, meta, map[string]any{
			"claim_id": claim.ClaimID, "agent": claim.AgentPubkey, "human": claim.HumanPubkey,
		})
	})
	if err != nil {
		return model.OwnershipClaim{}, err
	}
	return claim, nil
}

// ConfirmOwnershipClaim moves a pending claim to active. Only the human key
// named in the claim may confirm.
func (s *Store) ConfirmOwnershipClaim(ctx context.Context, claimID, humanPubkey, confirmSignature string, meta RequestMeta) (model.OwnershipClaim, error) {
	var claim model.OwnershipClaim
	var touched []string
	err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		var err error
		claim, err = getOwnershipClaim(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if claim.HumanPubkey != humanPubkey {
			return model.NewError(model.KindPermission, "only the human named in the claim may confirm it")
		}
		if claim.Status != model.OwnershipPending {
			return model.NewError(model.KindConflict,
				fmt.Sprintf("claim must be pending to confirm (current: %s)", claim.Status)).
				WithDetail("current_status", claim.Status)
		}

		claim.Status = model.OwnershipActive
		claim.ConfirmedAt = model.Now()
		claim.ConfirmSignature = confirmSignature
		if _, err := tx.ExecContext(ctx, `
UPDATE ownership_links SET status = ?, human_signature = ?, confirmed_at = ? WHERE claim_id = ?`,
			claim.Status, confirmSignature, claim.ConfirmedAt, claimID); err != nil {
			return internalErr("confirm ownership claim", err)
		}
		touched = []string{claim.AgentPubkey, claim.HumanPubkey}
		return insertAudit(ctx, tx, AuditOwnershipConfirm, model.OutcomeAccepted, meta, map[string]any{
			"claim_id": claimID, "agent": claim.AgentPubkey, "human": claim.HumanPubkey,
		})
	})
	if err != nil {
		return model.OwnershipClaim{}, err
	}
	s.notify(touched)
	return claim, nil
}

// RevokeOwnershipClaim moves an active claim to revoked. Either linked party
// may revoke.
func (s *Store) RevokeOwnershipClaim(ctx context.Context, claimID, revokerPubkey, reason string, meta RequestMeta) (model.OwnershipClaim, error) {
	var claim model.OwnershipClaim
	var touched []string
	err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		var err error
		claim, err = getOwnershipClaim(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if revokerPubkey != claim.AgentPubkey && revokerPubkey != claim.HumanPubkey {
			return model.NewError(model.KindPermission, "only the linked agent or human may revoke this claim")
		}
		if claim.Status != model.OwnershipActive {
			return model.NewError(model.KindConflict,
				fmt.Sprintf("claim must be active to revoke (current: %s)", claim.Status)).
				WithDetail("current_status", claim.Status)
		}

		claim.Status = model.OwnershipRevoked
		claim.RevokedAt = model.Now()
		claim.Revoker = revokerPubkey
		claim.RevokeReason = reason
		if _, err := tx.ExecContext(ctx, `
UPDATE ownership_links SET status = ?, revoked_at = ?, revoked_by = ?, revoke_reason = ? WHERE claim_id = ?`,
			claim.Status, claim.RevokedAt, revokerPubkey, reason, claimID); err != nil {
			return internalErr("revoke ownership claim", err)
		}
		touched = []string{claim.AgentPubkey, claim.HumanPubkey}
		return insertAudit(ctx, tx, AuditOwnershipRevoke, model.OutcomeAccepted, meta, map[string]any{
			"claim_id": claimID, "revoker": revokerPubkey,
		})
	})
	if err != nil {
		return model.OwnershipClaim{}, err
	}
	s.notify(touched)
	return claim, nil
}

// OwnershipClaim returns a claim by id.
func (s *Store) OwnershipClaim(ctx context.Context, claimID string) (model.OwnershipClaim, error) {
	var claim model.OwnershipClaim
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		claim, err = getOwnershipClaim(ctx, tx, claimID)
		return err
	})
	return claim, err
}

// OwnershipHistory lists all claims for an agent, newest first.
func (s *Store) OwnershipHistory(ctx context.Context, agentPubkey string) ([]model.OwnershipClaim, error) {
	var out []model.OwnershipClaim
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, ownershipSelect+`
WHERE agent_pubkey = ? ORDER BY claimed_at DESC, claim_id ASC`, agentPubkey)
		if err != nil {
			return internalErr("list ownership claims", err)
		}
		defer rows.Close()
		for rows.Next() {
			claim, err := scanOwnershipClaim(rows)
			if err != nil {
				return err
			}
			out = append(out, claim)
		}
		return rows.Err()
	})
	return out, err
}

// ActiveOwner returns the active claim for an agent, or not_found.
func (s *Store) ActiveOwner(ctx context.Context, agentPubkey string) (model.OwnershipClaim, error) {
	var claim model.OwnershipClaim
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		claim, err = activeOwner(ctx, tx, agentPubkey)
		return err
	})
	return claim, err
}

const ownershipSelect = `
SELECT claim_id, agent_pubkey, human_pubkey, status, agent_signature,
       human_signature, claimed_at, confirmed_at, revoked_at, revoked_by, revoke_reason
FROM ownership_links `

func scanOwnershipClaim(row rowScanner) (model.OwnershipClaim, error) {
	var c model.OwnershipClaim
	var humanSig, confirmedAt, revokedAt, revokedBy, revokeReason sql.NullString
	err := row.Scan(&c.ClaimID, &c.AgentPubkey, &c.HumanPubkey, &c.Status, &c.ClaimSignature,
		&humanSig, &c.ClaimedAt, &confirmedAt, &revokedAt, &revokedBy, &revokeReason)
	if err != nil {
		return c, err
	}
	c.ConfirmSignature = text(humanSig)
	c.ConfirmedAt = text(confirmedAt)
	c.RevokedAt = text(revokedAt)
	c.Revoker = text(revokedBy)
	c.RevokeReason = text(revokeReason)
	return c, nil
}

func getOwnershipClaim(ctx context.Context, tx *sql.Tx, claimID string) (model.OwnershipClaim, error) {
	row := tx.QueryRowContext(ctx, ownershipSelect+`WHERE claim_id = ?`, claimID)
	claim, err := scanOwnershipClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claim, model.NewError(model.KindNotFound, "unknown ownership claim: "+claimID)
	}
	if err != nil {
		return claim, internalErr("read ownership claim", err)
	}
	return claim, nil
}

func activeOwner(ctx context.Context, tx *sql.Tx, agentPubkey string) (model.OwnershipClaim, error) {
	row := tx.QueryRowContext(ctx, ownershipSelect+`
WHERE agent_pubkey = ? AND status = ? LIMIT 1`, agentPubkey, model.OwnershipActive)
	claim, err := scanOwnershipClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claim, model.NewError(model.KindNotFound, "agent has no active owner")
	}
	if err != nil {
		return claim, internalErr("read active owner", err)
	}
	return claim, nil
}
