// Package evidence scores the supporting evidence of an attestation across
// four axes. Scores are stored with the attestation at accept time and feed
// the trust engine; for behavioral warnings the composite additionally gates
// acceptance.
package evidence

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/kredo-protocol/kredo/cidutil"
	"github.com/kredo-protocol/kredo/model"
)

// Score holds the four axis scores and their weighted composite, each in
// [0,1], rounded to 4 decimal places.
type Score struct {
	Specificity   float64 `json:"specificity"`
	Verifiability float64 `json:"verifiability"`
	Relevance     float64 `json:"relevance"`
	Recency       float64 `json:"recency"`
	Composite     float64 `json:"composite"`
}

// Composite weights. They sum to 1 so the composite stays in [0,1].
const (
	weightSpecificity   = 0.30
	weightVerifiability = 0.30
	weightRelevance     = 0.25
	weightRecency       = 0.15
)

// RecencyHalfLifeDays halves the recency score every 180 days.
const RecencyHalfLifeDays = 180.0

// WarningCompositeFloor is the minimum composite for a behavioral warning to
// be accepted.
const WarningCompositeFloor = 0.4

// contextSaturation is the context length at which the length component of
// specificity reaches its maximum.
const contextSaturation = 280

var (
	digitRe      = regexp.MustCompile(`[0-9]`)
	identifierRe = regexp.MustCompile(`[a-z]+:[A-Za-z0-9-]+`)
	urlRe        = regexp.MustCompile(`https?://[^\s]+`)

	// Categorized artifact references: <category>:<token>.
	categoryArtifactRe = regexp.MustCompile(`^(chain|log|hash|output|pr|commit|report|post):[A-Za-z0-9][A-Za-z0-9/._-]*$`)
	urlArtifactRe      = regexp.MustCompile(`^https?://`)
)

// fillerMarkers are generic praise phrases that say nothing checkable.
var fillerMarkers = []string{
	"great", "awesome", "amazing", "excellent", "fantastic", "world-class",
	"very good", "really good", "the best",
}

// ScoreAttestation scores a's evidence as of now. The attestation is assumed
// to have passed shape validation already.
func ScoreAttestation(a *model.Attestation, now time.Time) Score {
	spec := specificity(a.Evidence)
	verif := verifiability(a.Evidence.Artifacts)
	rel := relevance(a)
	rec := recency(a, now)
	composite := weightSpecificity*spec +
		weightVerifiability*verif +
		weightRelevance*rel +
		weightRecency*rec
	return Score{
		Specificity:   round4(spec),
		Verifiability: round4(verif),
		Relevance:     round4(rel),
		Recency:       round4(rec),
		Composite:     round4(composite),
	}
}

// specificity rewards long, concrete context: length saturating at
// contextSaturation chars, plus bonuses for digits, categorized identifiers,
// URLs, and a stated outcome, minus a penalty per generic filler phrase.
func specificity(ev model.Evidence) float64 {
	length := float64(len(ev.Context)) / contextSaturation
	if length > 1 {
		length = 1
	}
	score := 0.6 * length

	if digitRe.MatchString(ev.Context) {
		score += 0.1
	}
	if identifierRe.MatchString(ev.Context) {
		score += 0.1
	}
	if urlRe.MatchString(ev.Context) {
		score += 0.1
	}
	if ev.Outcome != "" {
		score += 0.1
	}

	lower := strings.ToLower(ev.Context)
	penalty := 0.0
	for _, marker := range fillerMarkers {
		if strings.Contains(lower, marker) {
			penalty += 0.05
		}
	}
	if penalty > 0.2 {
		penalty = 0.2
	}
	return clamp01(score - penalty)
}

// verifiability is the fraction of artifacts that an independent party could
// actually dereference or check. No artifacts means nothing to verify.
func verifiability(artifacts []string) float64 {
	if len(artifacts) == 0 {
		return 0
	}
	checkable := 0
	for _, art := range artifacts {
		if VerifiableArtifact(art) {
			checkable++
		}
	}
	return float64(checkable) / float64(len(artifacts))
}

// VerifiableArtifact reports whether an artifact reference is independently
// checkable: a URL, an IPFS CID, or a categorized reference.
func VerifiableArtifact(art string) bool {
	if urlArtifactRe.MatchString(art) {
		return true
	}
	if cidutil.ValidArtifactCID(art) {
		return true
	}
	return categoryArtifactRe.MatchString(art)
}

// relevance cross-checks that the evidence actually mentions the attested
// skill. Full identifier echo scores 1; partial hyphen-segment echoes score
// proportionally. Documents without a skill (behavioral warnings) have
// nothing to cross-check and score 1.
func relevance(a *model.Attestation) float64 {
	if a.Skill == nil {
		return 1
	}
	haystack := strings.ToLower(a.Evidence.Context + " " + strings.Join(a.Evidence.Artifacts, " "))
	best := termScore(haystack, a.Skill.Domain)
	if s := termScore(haystack, a.Skill.Specific); s > best {
		best = s
	}
	return best
}

func termScore(haystack, id string) float64 {
	id = strings.ToLower(id)
	if id == "" {
		return 0
	}
	if strings.Contains(haystack, id) {
		return 1
	}
	parts := strings.Split(id, "-")
	considered, matched := 0, 0
	for _, part := range parts {
		if len(part) < 3 {
			continue
		}
		considered++
		if strings.Contains(haystack, part) {
			matched++
		}
	}
	if considered == 0 {
		return 0
	}
	return 0.75 * float64(matched) / float64(considered)
}

// recency decays with a 180-day half-life from interaction_date when given,
// otherwise from issued. Timestamps in the future score full.
func recency(a *model.Attestation, now time.Time) float64 {
	ref := a.Evidence.InteractionDate
	if ref == "" {
		ref = a.Issued
	}
	t, err := model.ParseTime(ref)
	if err != nil {
		return 0
	}
	days := now.UTC().Sub(t).Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Pow(2, -days/RecencyHalfLifeDays)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
