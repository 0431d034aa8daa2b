package trust

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kredo-protocol/kredo/evidence"
	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/store"
)

func testPubkey(seed byte) string {
	const digits = "0123456789abcdef"
	pair := string([]byte{digits[seed>>4], digits[seed&0xF]})
	return "ed25519:" + strings.Repeat(pair, 32)
}

func testSignature() string {
	return "ed25519:" + strings.Repeat("cd", 64)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kredo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func attest(t *testing.T, s *store.Store, attestor, subject string, issued time.Time) *model.Attestation {
	t.Helper()
	a := &model.Attestation{
		Kredo:    model.KredoVersion,
		ID:       uuid.NewString(),
		Type:     string(model.TypeSkill),
		Subject:  model.Subject{Pubkey: subject, Name: "Subject"},
		Attestor: model.Attestor{Pubkey: attestor, Name: "Attestor", Type: "human"},
		Skill:    &model.Skill{Domain: "code-generation", Specific: "code-review", Proficiency: 4},
		Evidence: model.Evidence{
			Context:   "Reviewed pr:auth-47 across 12 sessions and confirmed the fix held in production.",
			Artifacts: []string{"pr:auth-47", "https://example.com/review/47"},
			Outcome:   "merged and deployed",
		},
		Issued:    model.FormatTime(issued),
		Expires:   model.FormatTime(issued.Add(365 * 24 * time.Hour)),
		Signature: testSignature(),
	}
	score := evidence.ScoreAttestation(a, issued)
	if _, err := s.InsertAttestation(context.Background(), a, score, []byte("c:"+a.ID), store.RequestMeta{}); err != nil {
		t.Fatalf("InsertAttestation: %v", err)
	}
	return a
}

func TestDecayHalfLife(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	fresh := decay(model.FormatTime(now), now)
	if math.Abs(fresh-1.0) > 1e-9 {
		t.Fatalf("fresh decay = %v", fresh)
	}
	half := decay(model.FormatTime(now.AddDate(0, 0, -180)), now)
	if math.Abs(half-0.5) > 1e-6 {
		t.Fatalf("half-life decay = %v", half)
	}
	future := decay(model.FormatTime(now.Add(time.Hour)), now)
	if future != 1.0 {
		t.Fatalf("future decay = %v", future)
	}
}

func TestSingleAttestationReputation(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	alice, bob := testPubkey(1), testPubkey(2)
	attest(t, s, alice, bob, time.Now())

	analysis, err := e.Analyze(context.Background(), bob)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.ReputationScore <= 0 {
		t.Fatalf("reputation = %v", analysis.ReputationScore)
	}
	if len(analysis.AttestationWeights) != 1 {
		t.Fatalf("weights = %+v", analysis.AttestationWeights)
	}
	w := analysis.AttestationWeights[0]
	if w.RawProficiency != 4 || w.RingDiscount != 1.0 {
		t.Fatalf("weight = %+v", w)
	}
	// Alice has no attestations herself.
	if w.AttestorReputation != 0 || !hasFlag(w.Flags, FlagUnattestedAttestor) {
		t.Fatalf("attestor rep = %v flags = %v", w.AttestorReputation, w.Flags)
	}
	if len(analysis.WeightedSkills) != 1 {
		t.Fatalf("skills = %+v", analysis.WeightedSkills)
	}
	sk := analysis.WeightedSkills[0]
	if sk.Domain != "code-generation" || sk.WeightedAvgProficiency != 4 || sk.AvgProficiency != 4 {
		t.Fatalf("skill = %+v", sk)
	}
}

func TestMutualPairDiscount(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	a, b := testPubkey(3), testPubkey(4)
	attest(t, s, a, b, time.Now())
	attest(t, s, b, a, time.Now())

	analysis, err := e.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.RingsInvolved) != 1 || analysis.RingsInvolved[0].RingType != RingMutualPair {
		t.Fatalf("rings = %+v", analysis.RingsInvolved)
	}
	w := analysis.AttestationWeights[0]
	if w.RingDiscount != 0.5 || !hasFlag(w.Flags, FlagRingMember) {
		t.Fatalf("weight = %+v", w)
	}
}

func TestCliqueDiscount(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	keys := []string{testPubkey(5), testPubkey(6), testPubkey(7)}
	for _, from := range keys {
		for _, to := range keys {
			if from != to {
				attest(t, s, from, to, time.Now())
			}
		}
	}

	report, err := e.Rings(context.Background())
	if err != nil {
		t.Fatalf("Rings: %v", err)
	}
	var cliques []Ring
	for _, ring := range report.Rings {
		if ring.RingType == RingClique {
			cliques = append(cliques, ring)
		}
	}
	if len(cliques) != 1 || cliques[0].Size != 3 {
		t.Fatalf("cliques = %+v", cliques)
	}
	if len(cliques[0].AttestationIDs) != 6 {
		t.Fatalf("clique attestation ids = %v", cliques[0].AttestationIDs)
	}

	for _, key := range keys {
		analysis, err := e.Analyze(context.Background(), key)
		if err != nil {
			t.Fatalf("Analyze(%s): %v", key, err)
		}
		for _, w := range analysis.AttestationWeights {
			if w.RingDiscount != 0.3 {
				t.Fatalf("discount for %s = %+v", key, w)
			}
		}
	}
}

func TestRevocationResetsReputation(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	ctx := context.Background()
	alice, bob := testPubkey(8), testPubkey(9)
	a := attest(t, s, alice, bob, time.Now())

	analysis, err := e.Analyze(ctx, bob)
	if err != nil || analysis.ReputationScore <= 0 {
		t.Fatalf("before revoke: %v %v", err, analysis.ReputationScore)
	}

	rev := &model.Revocation{
		Kredo: model.KredoVersion, ID: uuid.NewString(), AttestationID: a.ID,
		Revoker: model.Subject{Pubkey: alice}, Reason: "stale",
		Issued: model.Now(), Signature: testSignature(),
	}
	if _, err := s.RevokeAttestation(ctx, rev, store.RequestMeta{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The write hook must have dropped the cached analysis.
	analysis, err = e.Analyze(ctx, bob)
	if err != nil {
		t.Fatalf("after revoke: %v", err)
	}
	if analysis.ReputationScore != 0 || len(analysis.AttestationWeights) != 0 {
		t.Fatalf("stale analysis after revoke: %+v", analysis)
	}
}

func TestExpiredAttestationsIgnored(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	e.now = func() time.Time { return time.Now().Add(2 * 365 * 24 * time.Hour) }
	alice, bob := testPubkey(10), testPubkey(11)
	attest(t, s, alice, bob, time.Now())

	analysis, err := e.Analyze(context.Background(), bob)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.ReputationScore != 0 || len(analysis.AttestationWeights) != 0 {
		t.Fatalf("expired attestation counted: %+v", analysis)
	}
}

func TestNetworkHealth(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	a, b, c := testPubkey(12), testPubkey(13), testPubkey(14)
	attest(t, s, a, b, time.Now())
	attest(t, s, b, a, time.Now())
	attest(t, s, a, c, time.Now())

	h, err := e.NetworkHealth(context.Background())
	if err != nil {
		t.Fatalf("NetworkHealth: %v", err)
	}
	if h.TotalAgentsInGraph != 3 || h.TotalDirectedEdges != 3 {
		t.Fatalf("graph counts = %+v", h)
	}
	if h.MutualPairCount != 1 || h.CliqueCount != 0 || h.AgentsInRings != 2 {
		t.Fatalf("ring counts = %+v", h)
	}
	if math.Abs(h.RingParticipationRate-0.6667) > 1e-9 {
		t.Fatalf("participation = %v", h.RingParticipationRate)
	}
}

func TestAccountabilityTiers(t *testing.T) {
	acc := AccountabilityFor(nil)
	if acc.Tier != TierUnlinked || acc.Multiplier != 0.6 {
		t.Fatalf("unlinked = %+v", acc)
	}
	acc = AccountabilityFor(&model.OwnershipClaim{Status: model.OwnershipActive, HumanPubkey: testPubkey(15)})
	if acc.Tier != TierHumanLinked || acc.Multiplier != 1.0 {
		t.Fatalf("linked = %+v", acc)
	}
	acc = AccountabilityFor(&model.OwnershipClaim{Status: model.OwnershipPending})
	if acc.Tier != TierUnlinked {
		t.Fatalf("pending treated as linked: %+v", acc)
	}
}

func TestIntegrityMultiplier(t *testing.T) {
	if IntegrityMultiplier(model.TrafficGreen) != 1.0 ||
		IntegrityMultiplier(model.TrafficYellow) != 0.5 ||
		IntegrityMultiplier(model.TrafficRed) != 0.0 {
		t.Fatalf("multiplier table broken")
	}
}

func TestDeployabilityUnlinkedAgent(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s, time.Minute)
	agent := testPubkey(16)

	// No owner, no baseline: unlinked and red.
	d, err := e.DeployabilityFor(context.Background(), agent, 0.8)
	if err != nil {
		t.Fatalf("DeployabilityFor: %v", err)
	}
	if d.Accountability.Tier != TierUnlinked || d.IntegrityLight != model.TrafficRed {
		t.Fatalf("deployability = %+v", d)
	}
	if d.Multiplier != 0 || d.Score != 0 {
		t.Fatalf("red gate leaks score: %+v", d)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
