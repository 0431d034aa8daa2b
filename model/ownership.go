package model

// Ownership claim lifecycle states. Transitions are enforced by the store:
// pending → active → revoked, plus terminal pending-expired for abandoned
// claims. Any other transition fails.
const (
	OwnershipPending        = "pending"
	OwnershipActive         = "active"
	OwnershipRevoked        = "revoked"
	OwnershipPendingExpired = "pending-expired"
)

// OwnershipClaim links an agent key to a human owner key. A claim is created
// by the agent, confirmed by the human, and revocable by either.
type OwnershipClaim struct {
	ClaimID          string `json:"claim_id"`
	AgentPubkey      string `json:"agent_pubkey"`
	HumanPubkey      string `json:"human_pubkey"`
	Status           string `json:"status"`
	ClaimSignature   string `json:"claim_signature"`
	ConfirmSignature string `json:"confirm_signature,omitempty"`
	ClaimedAt        string `json:"claimed_at"`
	ConfirmedAt      string `json:"confirmed_at,omitempty"`
	RevokedAt        string `json:"revoked_at,omitempty"`
	Revoker          string `json:"revoker,omitempty"`
	RevokeReason     string `json:"revoke_reason,omitempty"`
}

// Integrity baseline statuses. At most one baseline per agent is active.
const (
	BaselineActive     = "active"
	BaselineSuperseded = "superseded"
)

// FileHash is one entry in an integrity manifest. Path-sorted sequences of
// these are the signed payload for baselines and checks.
type FileHash struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// IntegrityBaseline is the owner-approved file manifest for an agent.
type IntegrityBaseline struct {
	BaselineID     string     `json:"baseline_id"`
	AgentPubkey    string     `json:"agent_pubkey"`
	OwnerPubkey    string     `json:"owner_pubkey"`
	FileHashes     []FileHash `json:"file_hashes"`
	OwnerSignature string     `json:"owner_signature"`
	SetAt          string     `json:"set_at"`
	Status         string     `json:"status"`
}

// IntegrityDiff is the server-computed difference between a measured manifest
// and the active baseline. Paths in each list are sorted.
type IntegrityDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether the diff records no divergence.
func (d IntegrityDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// IntegrityCheck is one agent-signed runtime measurement and its verdict.
type IntegrityCheck struct {
	CheckID        string        `json:"check_id"`
	AgentPubkey    string        `json:"agent_pubkey"`
	BaselineID     string        `json:"baseline_id,omitempty"`
	FileHashes     []FileHash    `json:"file_hashes"`
	AgentSignature string        `json:"agent_signature"`
	CheckedAt      string        `json:"checked_at"`
	Status         string        `json:"status"`
	Diff           IntegrityDiff `json:"diff"`
}

// Traffic-light values for the integrity run gate.
const (
	TrafficGreen  = "green"
	TrafficYellow = "yellow"
	TrafficRed    = "red"
)

// AuditEvent is one append-only audit row. Written in the same transaction
// as the state change it describes.
type AuditEvent struct {
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	Outcome      string `json:"outcome"`
	ActorPubkey  string `json:"actor_pubkey,omitempty"`
	SourceIP     string `json:"source_ip,omitempty"`
	SourceIPHash string `json:"source_ip_hash,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	DetailsJSON  string `json:"details_json,omitempty"`
}

// Audit outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
