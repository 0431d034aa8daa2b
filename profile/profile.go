// Package profile assembles the public per-subject view from the store's
// joined bundle and the trust engine's analysis. It never touches SQL.
package profile

import (
	"context"
	"math"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/store"
	"github.com/kredo-protocol/kredo/trust"
)

// AttestationCount splits non-revoked attestations by attestor type.
type AttestationCount struct {
	Total    int `json:"total"`
	ByAgents int `json:"by_agents"`
	ByHumans int `json:"by_humans"`
}

// Warning is one behavioral warning on the profile, revoked ones included so
// history stays visible.
type Warning struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Attestor     string `json:"attestor"`
	Issued       string `json:"issued"`
	IsRevoked    bool   `json:"is_revoked"`
	DisputeCount int    `json:"dispute_count"`
}

// TrustAnalysis is the trust engine slice of the profile.
type TrustAnalysis struct {
	ReputationScore float64                   `json:"reputation_score"`
	RingFlags       []trust.Ring              `json:"ring_flags"`
	PerAttestation  []trust.AttestationWeight `json:"per_attestation"`
}

// Owner describes the active human owner, when one exists.
type Owner struct {
	Pubkey  string `json:"pubkey"`
	Name    string `json:"name,omitempty"`
	ClaimID string `json:"claim_id"`
}

// Accountability is the human-backing tier on the profile.
type Accountability struct {
	Tier       string  `json:"tier"`
	Multiplier float64 `json:"multiplier"`
	Owner      *Owner  `json:"owner,omitempty"`
}

// Integrity is the run-gate slice of the profile.
type Integrity struct {
	TrafficLight      string  `json:"traffic_light"`
	StatusLabel       string  `json:"status_label"`
	RecommendedAction string  `json:"recommended_action"`
	Multiplier        float64 `json:"multiplier"`
}

// Profile is the assembled response for GET /agents/{pubkey}/profile.
type Profile struct {
	Pubkey                  string               `json:"pubkey"`
	Name                    string               `json:"name"`
	Type                    string               `json:"type"`
	Registered              bool                 `json:"registered"`
	LastSeen                string               `json:"last_seen"`
	AttestationCount        AttestationCount     `json:"attestation_count"`
	EvidenceQualityAvg      float64              `json:"evidence_quality_avg"`
	Skills                  []trust.WeightedSkill `json:"skills"`
	Warnings                []Warning            `json:"warnings"`
	TrustNetwork            []store.AttestorLink `json:"trust_network"`
	TrustAnalysis           TrustAnalysis        `json:"trust_analysis"`
	Accountability          Accountability       `json:"accountability"`
	Integrity               Integrity            `json:"integrity"`
	DeployabilityMultiplier float64              `json:"deployability_multiplier"`
	DeployabilityScore      float64              `json:"deployability_score"`
}

// Assembler joins store bundles with trust analyses.
type Assembler struct {
	store  *store.Store
	engine *trust.Engine
}

// NewAssembler wires the two sources.
func NewAssembler(st *store.Store, engine *trust.Engine) *Assembler {
	return &Assembler{store: st, engine: engine}
}

// Assemble builds the full profile for pubkey. Unknown pubkeys return
// not_found from the bundle read.
func (a *Assembler) Assemble(ctx context.Context, pubkey string) (Profile, error) {
	bundle, err := a.store.ProfileBundleFor(ctx, pubkey)
	if err != nil {
		return Profile{}, err
	}
	analysis, err := a.engine.Analyze(ctx, pubkey)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Pubkey:     bundle.Key.Pubkey,
		Name:       bundle.Key.Name,
		Type:       bundle.Key.Type,
		Registered: bundle.Key.Registered,
		LastSeen:   bundle.Key.LastSeen,
		Skills:     analysis.WeightedSkills,
		Warnings:   []Warning{},
		TrustNetwork: append([]store.AttestorLink{}, bundle.Attestors...),
		TrustAnalysis: TrustAnalysis{
			ReputationScore: analysis.ReputationScore,
			RingFlags:       ringFlags(analysis.RingsInvolved),
			PerAttestation:  perAttestation(analysis.AttestationWeights),
		},
	}
	if p.Skills == nil {
		p.Skills = []trust.WeightedSkill{}
	}

	var qualitySum float64
	for _, rec := range bundle.Attestations {
		if model.AttestationType(rec.Type) == model.TypeWarning {
			p.Warnings = append(p.Warnings, Warning{
				ID:           rec.ID,
				Category:     rec.WarningCategory,
				Attestor:     rec.Attestor.Pubkey,
				Issued:       rec.Issued,
				IsRevoked:    rec.Revoked(),
				DisputeCount: bundle.DisputeCounts[rec.ID],
			})
		}
		if rec.Revoked() {
			continue
		}
		p.AttestationCount.Total++
		switch model.AttestorType(rec.Attestor.Type) {
		case model.TypeHuman:
			p.AttestationCount.ByHumans++
		case model.TypeAgent:
			p.AttestationCount.ByAgents++
		}
		qualitySum += rec.EvidenceScore.Composite
	}
	if p.AttestationCount.Total > 0 {
		p.EvidenceQualityAvg = round4(qualitySum / float64(p.AttestationCount.Total))
	}

	acc := trust.AccountabilityFor(bundle.ActiveOwner)
	p.Accountability = Accountability{Tier: acc.Tier, Multiplier: acc.Multiplier}
	if bundle.ActiveOwner != nil && bundle.ActiveOwner.Status == model.OwnershipActive {
		owner := &Owner{Pubkey: bundle.ActiveOwner.HumanPubkey, ClaimID: bundle.ActiveOwner.ClaimID}
		if key, err := a.store.KnownKey(ctx, owner.Pubkey); err == nil {
			owner.Name = key.Name
		}
		p.Accountability.Owner = owner
	}

	integrityMult := trust.IntegrityMultiplier(bundle.Integrity.TrafficLight)
	p.Integrity = Integrity{
		TrafficLight:      bundle.Integrity.TrafficLight,
		StatusLabel:       bundle.Integrity.StatusLabel,
		RecommendedAction: bundle.Integrity.RecommendedAction,
		Multiplier:        integrityMult,
	}

	p.DeployabilityMultiplier = round4(acc.Multiplier * integrityMult)
	p.DeployabilityScore = round4(analysis.ReputationScore * p.DeployabilityMultiplier)
	return p, nil
}

func ringFlags(rings []trust.Ring) []trust.Ring {
	if rings == nil {
		return []trust.Ring{}
	}
	return rings
}

func perAttestation(weights []trust.AttestationWeight) []trust.AttestationWeight {
	if weights == nil {
		return []trust.AttestationWeight{}
	}
	return weights
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
