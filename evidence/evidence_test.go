package evidence

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kredo-protocol/kredo/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func skillAttestation(ev model.Evidence, skill *model.Skill, issued time.Time) *model.Attestation {
	return &model.Attestation{
		Kredo:    model.KredoVersion,
		Type:     string(model.TypeSkill),
		Skill:    skill,
		Evidence: ev,
		Issued:   model.FormatTime(issued),
		Expires:  model.FormatTime(issued.Add(365 * 24 * time.Hour)),
	}
}

func TestStrongEvidenceScoresHigh(t *testing.T) {
	a := skillAttestation(model.Evidence{
		Context: "Performed a code-review of pr:kredo/412 covering 36 files; flagged 3 race conditions " +
			"and an unchecked error path in the retry loop. Follow-up discussion at " +
			"https://github.com/kredo/kredo/pull/412 shows all findings were confirmed and fixed " +
			"before the release branch was cut on 2026-02-10.",
		Artifacts: []string{"https://github.com/kredo/kredo/pull/412", "commit:9f2c1ab"},
		Outcome:   "all findings fixed, PR merged",
		InteractionDate: model.FormatTime(testNow.Add(-10 * 24 * time.Hour)),
	}, &model.Skill{Domain: "code-generation", Specific: "code-review", Proficiency: 4}, testNow.Add(-5*24*time.Hour))

	s := ScoreAttestation(a, testNow)
	if s.Composite < 0.6 {
		t.Fatalf("strong evidence composite = %v, want >= 0.6 (%+v)", s.Composite, s)
	}
	if s.Verifiability != 1 {
		t.Fatalf("verifiability = %v, want 1", s.Verifiability)
	}
	if s.Relevance != 1 {
		t.Fatalf("relevance = %v, want 1", s.Relevance)
	}
}

func TestVagueEvidenceScoresLow(t *testing.T) {
	a := skillAttestation(model.Evidence{
		Context: "Really great work, awesome collaborator.",
	}, &model.Skill{Domain: "data-analysis", Specific: "sql-optimization", Proficiency: 3}, testNow.Add(-400*24*time.Hour))

	s := ScoreAttestation(a, testNow)
	if s.Verifiability != 0 {
		t.Fatalf("verifiability without artifacts = %v, want 0", s.Verifiability)
	}
	if s.Relevance != 0 {
		t.Fatalf("relevance with no skill echo = %v, want 0", s.Relevance)
	}
	if s.Composite >= 0.4 {
		t.Fatalf("vague evidence composite = %v, want < 0.4", s.Composite)
	}
}

func TestScoresStayInBounds(t *testing.T) {
	cases := []*model.Attestation{
		skillAttestation(model.Evidence{}, &model.Skill{Domain: "x", Specific: "y"}, testNow),
		skillAttestation(model.Evidence{
			Context:   strings.Repeat("detail 123 pr:a-1 https://e.com ", 40),
			Artifacts: []string{"https://e.com", "chain:tx1", "log:abc", "hash:def"},
			Outcome:   "done",
		}, &model.Skill{Domain: "code-generation", Specific: "code-review"}, testNow),
	}
	for i, a := range cases {
		s := ScoreAttestation(a, testNow)
		for name, v := range map[string]float64{
			"specificity": s.Specificity, "verifiability": s.Verifiability,
			"relevance": s.Relevance, "recency": s.Recency, "composite": s.Composite,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("case %d: %s = %v out of [0,1]", i, name, v)
			}
		}
	}
}

func TestVerifiabilityIsFractionOfCheckableArtifacts(t *testing.T) {
	a := skillAttestation(model.Evidence{
		Context:   "work on the parser",
		Artifacts: []string{"https://example.com/x", "told me so"},
	}, &model.Skill{Domain: "parsing", Specific: "grammar-design"}, testNow)
	s := ScoreAttestation(a, testNow)
	if s.Verifiability != 0.5 {
		t.Fatalf("verifiability = %v, want 0.5", s.Verifiability)
	}
}

func TestVerifiableArtifactPatterns(t *testing.T) {
	valid := []string{
		"https://example.com/pr/42",
		"http://example.com",
		"chain:0xabc123",
		"log:session-9",
		"hash:deadbeef",
		"output:run-12",
		"pr:org/repo/42",
		"commit:9f2c1ab",
		"report:q1-2026",
		"post:forum.example/t/1",
		"ipfs:QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	}
	for _, art := range valid {
		if !VerifiableArtifact(art) {
			t.Fatalf("artifact %q should be verifiable", art)
		}
	}
	invalid := []string{
		"just words",
		"ftp://example.com",
		"payload:",
		"unknown:token",
		"ipfs:notacid",
	}
	for _, art := range invalid {
		if VerifiableArtifact(art) {
			t.Fatalf("artifact %q should not be verifiable", art)
		}
	}
}

func TestRelevancePartialHyphenMatch(t *testing.T) {
	a := skillAttestation(model.Evidence{
		Context: "optimized several slow queries in the reporting pipeline",
	}, &model.Skill{Domain: "data-engineering", Specific: "query-optimization"}, testNow)
	s := ScoreAttestation(a, testNow)
	// "query" does not appear but "queries" contains it; "optimization" does
	// not appear while "optimized" does not contain it. One of two segments.
	if s.Relevance <= 0 || s.Relevance >= 1 {
		t.Fatalf("partial relevance = %v, want strictly between 0 and 1", s.Relevance)
	}
}

func TestRelevanceForWarningsIsNeutral(t *testing.T) {
	a := &model.Attestation{
		Kredo: model.KredoVersion,
		Type:  string(model.TypeWarning),
		Evidence: model.Evidence{
			Context:   strings.Repeat("observed repeated unsolicited promotion across channels ", 3),
			Artifacts: []string{"log:session-44"},
		},
		Issued:  model.FormatTime(testNow),
		Expires: model.FormatTime(testNow.Add(24 * time.Hour)),
	}
	if s := ScoreAttestation(a, testNow); s.Relevance != 1 {
		t.Fatalf("warning relevance = %v, want 1", s.Relevance)
	}
}

func TestRecencyHalfLife(t *testing.T) {
	a := skillAttestation(model.Evidence{
		Context:         "work",
		InteractionDate: model.FormatTime(testNow.Add(-180 * 24 * time.Hour)),
	}, &model.Skill{Domain: "x", Specific: "y"}, testNow.Add(-700*24*time.Hour))
	s := ScoreAttestation(a, testNow)
	if math.Abs(s.Recency-0.5) > 0.01 {
		t.Fatalf("recency at half-life = %v, want ~0.5", s.Recency)
	}
}

func TestRecencyFallsBackToIssued(t *testing.T) {
	recent := skillAttestation(model.Evidence{Context: "work"}, &model.Skill{Domain: "x", Specific: "y"}, testNow.Add(-24*time.Hour))
	old := skillAttestation(model.Evidence{Context: "work"}, &model.Skill{Domain: "x", Specific: "y"}, testNow.Add(-360*24*time.Hour))
	if ScoreAttestation(recent, testNow).Recency <= ScoreAttestation(old, testNow).Recency {
		t.Fatalf("recency should fall with issued age when interaction_date is absent")
	}
}

func TestFillerPenaltyLowersSpecificity(t *testing.T) {
	base := "Reviewed the ingestion service error handling across 14 modules during the February audit cycle."
	clean := skillAttestation(model.Evidence{Context: base}, &model.Skill{Domain: "x", Specific: "y"}, testNow)
	filler := skillAttestation(model.Evidence{Context: base + " Truly awesome and amazing work."}, &model.Skill{Domain: "x", Specific: "y"}, testNow)
	cs := ScoreAttestation(clean, testNow).Specificity
	fs := ScoreAttestation(filler, testNow).Specificity
	if fs >= cs {
		t.Fatalf("filler specificity %v should be below clean %v", fs, cs)
	}
}

func TestSpecificityMonotonicInContextLength(t *testing.T) {
	short := skillAttestation(model.Evidence{Context: "fixed bug 12"}, &model.Skill{Domain: "x", Specific: "y"}, testNow)
	long := skillAttestation(model.Evidence{Context: "fixed bug 12 " + strings.Repeat("with detailed reproduction steps and timing data ", 5)}, &model.Skill{Domain: "x", Specific: "y"}, testNow)
	if ScoreAttestation(long, testNow).Specificity < ScoreAttestation(short, testNow).Specificity {
		t.Fatalf("longer context must not lower specificity")
	}
}
