package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kredo-protocol/kredo/model"
)

// ProfileBundle is everything the profile assembler needs for one subject,
// read in a single transaction so the joins are consistent.
type ProfileBundle struct {
	Key           model.KnownKey
	Attestations  []AttestationRecord // all for the subject, revoked included
	DisputeCounts map[string]int      // warning id → accepted dispute count
	Attestors     []AttestorLink
	ActiveOwner   *model.OwnershipClaim
	Integrity     IntegrityStatus
}

// ProfileBundleFor loads the profile bundle for a subject pubkey.
func (s *Store) ProfileBundleFor(ctx context.Context, pubkey string) (ProfileBundle, error) {
	bundle := ProfileBundle{DisputeCounts: map[string]int{}}
	err := s.view(ctx, func(tx *sql.Tx) error {
		key, err := getKnownKey(ctx, tx, pubkey)
		if err != nil {
			return err
		}
		bundle.Key = key

		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM attestations WHERE subject_pubkey = ?
ORDER BY issued DESC, id ASC`, attestationColumns), pubkey)
		if err != nil {
			return internalErr("list subject attestations", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanAttestation(rows)
			if err != nil {
				return err
			}
			bundle.Attestations = append(bundle.Attestations, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		dRows, err := tx.QueryContext(ctx, `
SELECT d.warning_id, COUNT(*)
FROM disputes d
JOIN attestations a ON a.id = d.warning_id
WHERE a.subject_pubkey = ?
GROUP BY d.warning_id`, pubkey)
		if err != nil {
			return internalErr("count disputes", err)
		}
		defer dRows.Close()
		for dRows.Next() {
			var warningID string
			var count int
			if err := dRows.Scan(&warningID, &count); err != nil {
				return internalErr("scan dispute count", err)
			}
			bundle.DisputeCounts[warningID] = count
		}
		if err := dRows.Err(); err != nil {
			return err
		}

		bundle.Attestors, err = attestorLinks(ctx, tx, pubkey)
		if err != nil {
			return err
		}

		owner, err := activeOwner(ctx, tx, pubkey)
		switch {
		case err == nil:
			bundle.ActiveOwner = &owner
		case !model.IsKind(err, model.KindNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return ProfileBundle{}, err
	}
	// The integrity gate is derived state; it reads its own consistent view.
	integrity, err := s.IntegrityStatusFor(ctx, pubkey)
	if err != nil {
		return ProfileBundle{}, err
	}
	bundle.Integrity = integrity
	return bundle, nil
}
