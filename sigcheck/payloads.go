package sigcheck

import "github.com/kredo-protocol/kredo/model"

// Action payload builders. Signed auxiliary operations do not sign the
// request body; they sign the canonical bytes of these explicit field maps,
// so builder and client must agree on every key.

// RegisterUpdatePayload is signed by the key whose record changes.
func RegisterUpdatePayload(pubkey, name, keyType string) map[string]any {
	return map[string]any{
		"action": "register_update",
		"pubkey": pubkey,
		"name":   name,
		"type":   keyType,
	}
}

// OwnershipClaimPayload is signed by the agent key.
func OwnershipClaimPayload(claimID, agentPubkey, humanPubkey string) map[string]any {
	return map[string]any{
		"action":       "ownership_claim",
		"claim_id":     claimID,
		"agent_pubkey": agentPubkey,
		"human_pubkey": humanPubkey,
	}
}

// OwnershipConfirmPayload is signed by the human key.
func OwnershipConfirmPayload(claimID, agentPubkey, humanPubkey string) map[string]any {
	return map[string]any{
		"action":       "ownership_confirm",
		"claim_id":     claimID,
		"agent_pubkey": agentPubkey,
		"human_pubkey": humanPubkey,
	}
}

// OwnershipRevokePayload is signed by either linked party.
func OwnershipRevokePayload(claimID, agentPubkey, humanPubkey, revokerPubkey, reason string) map[string]any {
	return map[string]any{
		"action":         "ownership_revoke",
		"claim_id":       claimID,
		"agent_pubkey":   agentPubkey,
		"human_pubkey":   humanPubkey,
		"revoker_pubkey": revokerPubkey,
		"reason":         reason,
	}
}

// IntegrityBaselinePayload is signed by the active human owner. file_hashes
// must already be normalized (path-sorted, lowercase digests).
func IntegrityBaselinePayload(baselineID, agentPubkey, ownerPubkey string, fileHashes []model.FileHash) map[string]any {
	return map[string]any{
		"action":       "integrity_set_baseline",
		"baseline_id":  baselineID,
		"agent_pubkey": agentPubkey,
		"owner_pubkey": ownerPubkey,
		"file_hashes":  manifestMaps(fileHashes),
	}
}

// IntegrityCheckPayload is signed by the agent key itself.
func IntegrityCheckPayload(agentPubkey string, fileHashes []model.FileHash) map[string]any {
	return map[string]any{
		"action":       "integrity_check",
		"agent_pubkey": agentPubkey,
		"file_hashes":  manifestMaps(fileHashes),
	}
}

// CreateDomainPayload is signed by the proposing key.
func CreateDomainPayload(id, label, pubkey string) map[string]any {
	return map[string]any{
		"action": "create_domain",
		"id":     id,
		"label":  label,
		"pubkey": pubkey,
	}
}

// CreateSkillPayload is signed by the proposing key.
func CreateSkillPayload(domain, id, pubkey string) map[string]any {
	return map[string]any{
		"action": "create_skill",
		"domain": domain,
		"id":     id,
		"pubkey": pubkey,
	}
}

// DeleteDomainPayload is signed by the key that created the domain.
func DeleteDomainPayload(domain, pubkey string) map[string]any {
	return map[string]any{
		"action": "delete_domain",
		"domain": domain,
		"pubkey": pubkey,
	}
}

// DeleteSkillPayload is signed by the key that created the skill.
func DeleteSkillPayload(domain, skill, pubkey string) map[string]any {
	return map[string]any{
		"action": "delete_skill",
		"domain": domain,
		"skill":  skill,
		"pubkey": pubkey,
	}
}

func manifestMaps(fileHashes []model.FileHash) []any {
	out := make([]any, len(fileHashes))
	for i, fh := range fileHashes {
		out[i] = map[string]any{"path": fh.Path, "sha256": fh.SHA256}
	}
	return out
}
