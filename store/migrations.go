package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kredo-protocol/kredo/model"
)

// Migrations are monotonic: version N applies only when N-1 is the latest
// recorded version. Never edit an applied migration; append a new one.
var migrations = []struct {
	version int
	ddl     string
}{
	{1, `
CREATE TABLE known_keys (
    pubkey TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT 'agent',
    registered INTEGER NOT NULL DEFAULT 0,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL
);

CREATE TABLE attestations (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    attestor_pubkey TEXT NOT NULL,
    attestor_name TEXT NOT NULL DEFAULT '',
    attestor_type TEXT NOT NULL DEFAULT 'agent',
    subject_pubkey TEXT NOT NULL,
    subject_name TEXT NOT NULL DEFAULT '',
    domain TEXT,
    specific_skill TEXT,
    proficiency INTEGER,
    warning_category TEXT,
    evidence_context TEXT NOT NULL DEFAULT '',
    evidence_artifacts TEXT NOT NULL DEFAULT '[]',
    evidence_outcome TEXT NOT NULL DEFAULT '',
    evidence_interaction_date TEXT,
    score_specificity REAL NOT NULL DEFAULT 0,
    score_verifiability REAL NOT NULL DEFAULT 0,
    score_relevance REAL NOT NULL DEFAULT 0,
    score_recency REAL NOT NULL DEFAULT 0,
    score_composite REAL NOT NULL DEFAULT 0,
    issued TEXT NOT NULL,
    expires TEXT NOT NULL,
    signature TEXT NOT NULL,
    raw_json TEXT NOT NULL,
    revoked_at TEXT,
    revoker_pubkey TEXT,
    accepted_at TEXT NOT NULL
);
CREATE INDEX idx_attestations_subject ON attestations(subject_pubkey);
CREATE INDEX idx_attestations_attestor ON attestations(attestor_pubkey);
CREATE INDEX idx_attestations_domain ON attestations(domain);
CREATE INDEX idx_attestations_type ON attestations(type);

CREATE TABLE revocations (
    id TEXT PRIMARY KEY,
    attestation_id TEXT NOT NULL REFERENCES attestations(id),
    revoker_pubkey TEXT NOT NULL,
    reason TEXT NOT NULL,
    issued TEXT NOT NULL,
    signature TEXT NOT NULL,
    raw_json TEXT NOT NULL,
    accepted_at TEXT NOT NULL
);
CREATE INDEX idx_revocations_attestation ON revocations(attestation_id);

CREATE TABLE disputes (
    id TEXT PRIMARY KEY,
    warning_id TEXT NOT NULL REFERENCES attestations(id),
    disputor_pubkey TEXT NOT NULL,
    response TEXT NOT NULL,
    issued TEXT NOT NULL,
    signature TEXT NOT NULL,
    raw_json TEXT NOT NULL,
    accepted_at TEXT NOT NULL
);
CREATE INDEX idx_disputes_warning ON disputes(warning_id);

CREATE TABLE ownership_links (
    claim_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    human_pubkey TEXT NOT NULL,
    status TEXT NOT NULL,
    agent_signature TEXT NOT NULL,
    human_signature TEXT,
    claimed_at TEXT NOT NULL,
    confirmed_at TEXT,
    revoked_at TEXT,
    revoked_by TEXT,
    revoke_reason TEXT
);
CREATE INDEX idx_ownership_agent_status ON ownership_links(agent_pubkey, status);
CREATE INDEX idx_ownership_human_status ON ownership_links(human_pubkey, status);

CREATE TABLE integrity_baselines (
    baseline_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    owner_pubkey TEXT NOT NULL,
    manifest_json TEXT NOT NULL,
    owner_signature TEXT NOT NULL,
    set_at TEXT NOT NULL,
    status TEXT NOT NULL
);
CREATE INDEX idx_integrity_baselines_agent ON integrity_baselines(agent_pubkey, status);

CREATE TABLE integrity_checks (
    check_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    baseline_id TEXT,
    manifest_json TEXT NOT NULL,
    agent_signature TEXT NOT NULL,
    status TEXT NOT NULL,
    diff_json TEXT NOT NULL,
    checked_at TEXT NOT NULL
);
CREATE INDEX idx_integrity_checks_agent ON integrity_checks(agent_pubkey, checked_at);

CREATE TABLE custom_domains (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE custom_skills (
    domain_id TEXT NOT NULL,
    id TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (domain_id, id)
);

CREATE TABLE audit_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    outcome TEXT NOT NULL,
    actor_pubkey TEXT,
    source_ip TEXT,
    source_ip_hash TEXT,
    user_agent TEXT,
    details_json TEXT
);
CREATE INDEX idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX idx_audit_events_action ON audit_events(action);
CREATE INDEX idx_audit_events_ip_hash ON audit_events(source_ip_hash);
CREATE INDEX idx_audit_events_actor ON audit_events(actor_pubkey);

CREATE TABLE document_pins (
    cid TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    document_type TEXT NOT NULL,
    pinned_at TEXT NOT NULL
);
CREATE INDEX idx_document_pins_document ON document_pins(document_id);
`},
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && m.version <= int(current.Int64) {
			continue
		}
		if want := int(current.Int64) + 1; m.version != want {
			return fmt.Errorf("non-monotonic migration: have version %d, next is %d", current.Int64, m.version)
		}
		err := s.runTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				m.version, model.Now())
			return err
		})
		if err != nil {
			return err
		}
		current = sql.NullInt64{Int64: int64(m.version), Valid: true}
	}
	return nil
}

// SchemaVersion returns the latest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
