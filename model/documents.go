package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KredoVersion is the protocol version this service speaks.
const KredoVersion = "1.0"

// MaxAttestationLifetime caps expires relative to issued.
const MaxAttestationLifetime = 2 * 365 * 24 * time.Hour

// AttestationType enumerates the document types that share the attestation
// envelope.
type AttestationType string

const (
	TypeSkill        AttestationType = "skill_attestation"
	TypeIntellectual AttestationType = "intellectual_contribution"
	TypeCommunity    AttestationType = "community_contribution"
	TypeWarning      AttestationType = "behavioral_warning"
)

// ValidAttestationType reports whether s is a known attestation type.
func ValidAttestationType(s string) bool {
	switch AttestationType(s) {
	case TypeSkill, TypeIntellectual, TypeCommunity, TypeWarning:
		return true
	}
	return false
}

// WarningCategory classifies a behavioral warning.
type WarningCategory string

const (
	WarningSpam             WarningCategory = "spam"
	WarningMalware          WarningCategory = "malware"
	WarningDeception        WarningCategory = "deception"
	WarningDataExfiltration WarningCategory = "data_exfiltration"
	WarningImpersonation    WarningCategory = "impersonation"
)

// ValidWarningCategory reports whether s is a known warning category.
func ValidWarningCategory(s string) bool {
	switch WarningCategory(s) {
	case WarningSpam, WarningMalware, WarningDeception, WarningDataExfiltration, WarningImpersonation:
		return true
	}
	return false
}

// Subject identifies the party a document is about.
type Subject struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name"`
}

// Attestor identifies the signing party of an attestation.
type Attestor struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// Skill names the claimed capability. Domain and Specific must exist in the
// taxonomy at insertion time; taxonomy membership is checked by the caller,
// not here.
type Skill struct {
	Domain      string `json:"domain"`
	Specific    string `json:"specific"`
	Proficiency int    `json:"proficiency"`
}

// Evidence supports an attestation's claim.
type Evidence struct {
	Context         string   `json:"context"`
	Artifacts       []string `json:"artifacts"`
	Outcome         string   `json:"outcome"`
	InteractionDate string   `json:"interaction_date,omitempty"`
}

// Attestation is the core signed document. Immutable once accepted.
type Attestation struct {
	Kredo           string    `json:"kredo"`
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Subject         Subject   `json:"subject"`
	Attestor        Attestor  `json:"attestor"`
	Skill           *Skill    `json:"skill,omitempty"`
	WarningCategory string    `json:"warning_category,omitempty"`
	Evidence        Evidence  `json:"evidence"`
	Issued          string    `json:"issued"`
	Expires         string    `json:"expires"`
	Signature       string    `json:"signature,omitempty"`
}

// warningArtifactCategories are the artifact prefixes that make a behavioral
// warning independently checkable.
var warningArtifactCategories = []string{"log:", "hash:", "payload:"}

// Validate checks document shape and internal invariants. Taxonomy membership
// and signature verification are separate steps.
func (a *Attestation) Validate() error {
	if a.Kredo != KredoVersion {
		return NewError(KindValidation, fmt.Sprintf("unsupported kredo version %q (want %q)", a.Kredo, KredoVersion))
	}
	if _, err := uuid.Parse(a.ID); err != nil {
		return NewError(KindValidation, "id must be a UUID")
	}
	if !ValidAttestationType(a.Type) {
		return NewError(KindValidation, fmt.Sprintf("unknown attestation type %q", a.Type))
	}
	if !ValidPubkey(a.Subject.Pubkey) {
		return NewError(KindValidation, "subject.pubkey must be 'ed25519:' followed by 64 lowercase hex characters")
	}
	if !ValidPubkey(a.Attestor.Pubkey) {
		return NewError(KindValidation, "attestor.pubkey must be 'ed25519:' followed by 64 lowercase hex characters")
	}
	if !ValidAttestorType(a.Attestor.Type) {
		return NewError(KindValidation, "attestor.type must be 'agent' or 'human'")
	}
	if len(a.Subject.Name) > 120 || len(a.Attestor.Name) > 120 {
		return NewError(KindValidation, "name must be 120 characters or fewer")
	}

	issued, err := ParseTime(a.Issued)
	if err != nil {
		return err
	}
	expires, err := ParseTime(a.Expires)
	if err != nil {
		return err
	}
	if !expires.After(issued) {
		return NewError(KindValidation, "expires must be after issued")
	}
	if expires.Sub(issued) > MaxAttestationLifetime {
		return NewError(KindValidation, "expires must be within 2 years of issued")
	}
	if a.Evidence.InteractionDate != "" {
		if _, err := ParseTime(a.Evidence.InteractionDate); err != nil {
			return err
		}
	}

	if AttestationType(a.Type) == TypeWarning {
		if !ValidWarningCategory(a.WarningCategory) {
			return NewError(KindValidation, "behavioral_warning requires a warning_category")
		}
		if len(a.Evidence.Context) < 100 {
			return NewError(KindValidation, "behavioral_warning requires evidence context of at least 100 characters")
		}
		if !hasWarningArtifact(a.Evidence.Artifacts) {
			return NewError(KindValidation, "behavioral_warning requires at least one log:, hash:, or payload: artifact")
		}
	} else {
		if a.Skill == nil {
			return NewError(KindValidation, a.Type+" requires a skill field")
		}
		if a.Skill.Proficiency < 1 || a.Skill.Proficiency > 5 {
			return NewError(KindValidation, "skill.proficiency must be between 1 and 5")
		}
	}
	return nil
}

func hasWarningArtifact(artifacts []string) bool {
	for _, art := range artifacts {
		for _, cat := range warningArtifactCategories {
			if strings.HasPrefix(art, cat) {
				return true
			}
		}
	}
	return false
}

// Expired reports whether the attestation is past its expiry at now.
func (a *Attestation) Expired(now time.Time) bool {
	expires, err := ParseTime(a.Expires)
	if err != nil {
		return true
	}
	return !expires.After(now.UTC())
}

// Revocation withdraws a previously issued attestation. Only the original
// attestor may revoke.
type Revocation struct {
	Kredo         string  `json:"kredo"`
	ID            string  `json:"id"`
	AttestationID string  `json:"attestation_id"`
	Revoker       Subject `json:"revoker"`
	Reason        string  `json:"reason"`
	Issued        string  `json:"issued"`
	Signature     string  `json:"signature,omitempty"`
}

// Validate checks document shape.
func (r *Revocation) Validate() error {
	if r.Kredo != KredoVersion {
		return NewError(KindValidation, fmt.Sprintf("unsupported kredo version %q (want %q)", r.Kredo, KredoVersion))
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return NewError(KindValidation, "id must be a UUID")
	}
	if r.AttestationID == "" {
		return NewError(KindValidation, "attestation_id is required")
	}
	if !ValidPubkey(r.Revoker.Pubkey) {
		return NewError(KindValidation, "revoker.pubkey must be 'ed25519:' followed by 64 lowercase hex characters")
	}
	if r.Reason == "" {
		return NewError(KindValidation, "reason is required")
	}
	if _, err := ParseTime(r.Issued); err != nil {
		return err
	}
	return nil
}

// Dispute is the subject's signed response to a behavioral warning.
type Dispute struct {
	Kredo     string  `json:"kredo"`
	ID        string  `json:"id"`
	WarningID string  `json:"warning_id"`
	Disputor  Subject `json:"disputor"`
	Response  string  `json:"response"`
	Issued    string  `json:"issued"`
	Signature string  `json:"signature,omitempty"`
}

// Validate checks document shape.
func (d *Dispute) Validate() error {
	if d.Kredo != KredoVersion {
		return NewError(KindValidation, fmt.Sprintf("unsupported kredo version %q (want %q)", d.Kredo, KredoVersion))
	}
	if _, err := uuid.Parse(d.ID); err != nil {
		return NewError(KindValidation, "id must be a UUID")
	}
	if d.WarningID == "" {
		return NewError(KindValidation, "warning_id is required")
	}
	if !ValidPubkey(d.Disputor.Pubkey) {
		return NewError(KindValidation, "disputor.pubkey must be 'ed25519:' followed by 64 lowercase hex characters")
	}
	if d.Response == "" {
		return NewError(KindValidation, "response is required")
	}
	if _, err := ParseTime(d.Issued); err != nil {
		return err
	}
	return nil
}
