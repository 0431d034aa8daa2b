package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/taxonomy"
)

// The store is the taxonomy registry's Source: custom domains and skills are
// rows here, merged over the bundled seed by the registry.

// ListCustomDomains implements taxonomy.Source.
func (s *Store) ListCustomDomains(ctx context.Context) ([]taxonomy.CustomDomain, error) {
	var out []taxonomy.CustomDomain
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, label, created_by, created_at FROM custom_domains ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return internalErr("list custom domains", err)
		}
		defer rows.Close()
		for rows.Next() {
			var d taxonomy.CustomDomain
			if err := rows.Scan(&d.ID, &d.Label, &d.Pubkey, &d.CreatedAt); err != nil {
				return internalErr("scan custom domain", err)
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// ListCustomSkills implements taxonomy.Source.
func (s *Store) ListCustomSkills(ctx context.Context) ([]taxonomy.CustomSkill, error) {
	var out []taxonomy.CustomSkill
	err := s.view(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT domain_id, id, created_by, created_at FROM custom_skills ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return internalErr("list custom skills", err)
		}
		defer rows.Close()
		for rows.Next() {
			var sk taxonomy.CustomSkill
			if err := rows.Scan(&sk.Domain, &sk.ID, &sk.Pubkey, &sk.CreatedAt); err != nil {
				return internalErr("scan custom skill", err)
			}
			out = append(out, sk)
		}
		return rows.Err()
	})
	return out, err
}

// CreateCustomDomain records a signed community domain.
func (s *Store) CreateCustomDomain(ctx context.Context, id, label, creatorPubkey string, meta RequestMeta) error {
	return s.withTx(ctx, []string{}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_domains (id, label, created_by, created_at) VALUES (?, ?, ?, ?)`,
			id, label, creatorPubkey, model.Now()); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "domain already exists").WithDetail("id", id)
			}
			return internalErr("insert custom domain", err)
		}
		return insertAudit(ctx, tx, AuditDomainCreate, model.OutcomeAccepted, meta,
			map[string]any{"id": id})
	})
}

// CreateCustomSkill records a signed community skill under an existing
// domain (seed or custom).
func (s *Store) CreateCustomSkill(ctx context.Context, domainID, skillID, creatorPubkey string, meta RequestMeta) error {
	return s.withTx(ctx, []string{}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_skills (domain_id, id, created_by, created_at) VALUES (?, ?, ?, ?)`,
			domainID, skillID, creatorPubkey, model.Now()); err != nil {
			if isUniqueViolation(err) {
				return model.NewError(model.KindConflict, "skill already exists in domain").
					WithDetail("domain", domainID).WithDetail("id", skillID)
			}
			return internalErr("insert custom skill", err)
		}
		return insertAudit(ctx, tx, AuditSkillCreate, model.OutcomeAccepted, meta,
			map[string]any{"domain": domainID, "id": skillID})
	})
}

// DeleteCustomDomain removes a custom domain and its custom skills. Only the
// creator may delete, and only while no attestation references the domain.
func (s *Store) DeleteCustomDomain(ctx context.Context, id, requesterPubkey string, meta RequestMeta) error {
	return s.withTx(ctx, []string{}, func(tx *sql.Tx) error {
		var createdBy string
		err := tx.QueryRowContext(ctx, `SELECT created_by FROM custom_domains WHERE id = ?`, id).Scan(&createdBy)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewError(model.KindNotFound, "unknown custom domain: "+id)
		}
		if err != nil {
			return internalErr("read custom domain", err)
		}
		if createdBy != requesterPubkey {
			return model.NewError(model.KindPermission, "only the creator may delete a custom domain")
		}
		var inUse int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM attestations WHERE domain = ?`, id).Scan(&inUse); err != nil {
			return internalErr("check domain references", err)
		}
		if inUse > 0 {
			return model.NewError(model.KindConflict, "domain is referenced by attestations").
				WithDetail("attestation_count", inUse)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM custom_skills WHERE domain_id = ?`, id); err != nil {
			return internalErr("delete custom skills", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM custom_domains WHERE id = ?`, id); err != nil {
			return internalErr("delete custom domain", err)
		}
		return insertAudit(ctx, tx, AuditDomainDelete, model.OutcomeAccepted, meta,
			map[string]any{"id": id})
	})
}

// DeleteCustomSkill removes a custom skill. Creator-only, and only while
// unreferenced.
func (s *Store) DeleteCustomSkill(ctx context.Context, domainID, skillID, requesterPubkey string, meta RequestMeta) error {
	return s.withTx(ctx, []string{}, func(tx *sql.Tx) error {
		var createdBy string
		err := tx.QueryRowContext(ctx,
			`SELECT created_by FROM custom_skills WHERE domain_id = ? AND id = ?`, domainID, skillID).Scan(&createdBy)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewError(model.KindNotFound, "unknown custom skill: "+domainID+"/"+skillID)
		}
		if err != nil {
			return internalErr("read custom skill", err)
		}
		if createdBy != requesterPubkey {
			return model.NewError(model.KindPermission, "only the creator may delete a custom skill")
		}
		var inUse int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM attestations WHERE domain = ? AND specific_skill = ?`,
			domainID, skillID).Scan(&inUse); err != nil {
			return internalErr("check skill references", err)
		}
		if inUse > 0 {
			return model.NewError(model.KindConflict, "skill is referenced by attestations").
				WithDetail("attestation_count", inUse)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM custom_skills WHERE domain_id = ? AND id = ?`, domainID, skillID); err != nil {
			return internalErr("delete custom skill", err)
		}
		return insertAudit(ctx, tx, AuditSkillDelete, model.OutcomeAccepted, meta,
			map[string]any{"domain": domainID, "id": skillID})
	})
}
