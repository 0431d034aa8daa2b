// Package trust derives reputation, ring flags, and deployability from
// stored attestations. Everything here is ephemeral metadata computed over
// signed documents; nothing writes back to the store.
package trust

import (
	"math"
	"sort"
	"time"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/store"
)

const (
	// DecayHalfLifeDays halves an attestation's weight every half life.
	DecayHalfLifeDays = 180.0

	// baseReputationWeight floors attestor reputation so a fresh key still
	// contributes.
	baseReputationWeight = 0.1

	mutualPairDiscount = 0.5
	cliqueDiscount     = 0.3

	maxReputationDepth = 3

	// maxEdgesForCliques bounds Bron-Kerbosch input.
	maxEdgesForCliques = 10000
)

// Ring is a detected attestation ring.
type Ring struct {
	Members        []string `json:"members"`
	Size           int      `json:"size"`
	RingType       string   `json:"ring_type"`
	AttestationIDs []string `json:"attestation_ids"`
}

// Ring types.
const (
	RingMutualPair = "mutual_pair"
	RingClique     = "clique"
)

// AttestationWeight is the computed weight breakdown for one attestation.
type AttestationWeight struct {
	AttestationID      string   `json:"attestation_id"`
	RawProficiency     int      `json:"raw_proficiency"`
	EvidenceQuality    float64  `json:"evidence_quality"`
	DecayFactor        float64  `json:"decay_factor"`
	AttestorReputation float64  `json:"attestor_reputation"`
	RingDiscount       float64  `json:"ring_discount"`
	EffectiveWeight    float64  `json:"effective_weight"`
	Flags              []string `json:"flags"`
}

// Weight flags.
const (
	FlagRingMember         = "ring_member"
	FlagDecayed            = "decayed"
	FlagUnattestedAttestor = "unattested_attestor"
)

// WeightedSkill aggregates one (domain, specific) cluster.
type WeightedSkill struct {
	Domain                 string  `json:"domain"`
	Specific               string  `json:"specific"`
	MaxProficiency         int     `json:"max_proficiency"`
	AvgProficiency         float64 `json:"avg_proficiency"`
	WeightedAvgProficiency float64 `json:"weighted_avg_proficiency"`
	AttestationCount       int     `json:"attestation_count"`
}

// Analysis is the full trust analysis for one pubkey.
type Analysis struct {
	Pubkey             string              `json:"pubkey"`
	ReputationScore    float64             `json:"reputation_score"`
	AttestationWeights []AttestationWeight `json:"attestation_weights"`
	RingsInvolved      []Ring              `json:"rings_involved"`
	WeightedSkills     []WeightedSkill     `json:"weighted_skills"`
	AnalysisTimestamp  string              `json:"analysis_timestamp"`
}

// RingReport is the network-wide ring listing.
type RingReport struct {
	RingCount int    `json:"ring_count"`
	Rings     []Ring `json:"rings"`
}

// NetworkHealth summarizes the attestation graph.
type NetworkHealth struct {
	TotalAgentsInGraph    int     `json:"total_agents_in_graph"`
	TotalDirectedEdges    int     `json:"total_directed_edges"`
	MutualPairCount       int     `json:"mutual_pair_count"`
	CliqueCount           int     `json:"clique_count"`
	AgentsInRings         int     `json:"agents_in_rings"`
	RingParticipationRate float64 `json:"ring_participation_rate"`
}

// graph is an in-memory snapshot of the active attestation set. One snapshot
// backs one analysis pass, so recursion and ring detection see a single
// consistent view.
type graph struct {
	now       time.Time
	bySubject map[string][]store.AttestationRecord
	edgeIDs   map[store.Edge][]string
	rings     []Ring
}

func buildGraph(recs []store.AttestationRecord, now time.Time) *graph {
	g := &graph{
		now:       now,
		bySubject: make(map[string][]store.AttestationRecord),
		edgeIDs:   make(map[store.Edge][]string),
	}
	for _, rec := range recs {
		if expired(rec.Expires, now) {
			continue
		}
		g.bySubject[rec.Subject.Pubkey] = append(g.bySubject[rec.Subject.Pubkey], rec)
		edge := store.Edge{Attestor: rec.Attestor.Pubkey, Subject: rec.Subject.Pubkey}
		g.edgeIDs[edge] = append(g.edgeIDs[edge], rec.ID)
	}
	g.rings = g.detectRings()
	return g
}

func expired(expires string, now time.Time) bool {
	if expires == "" {
		return false
	}
	t, err := model.ParseTime(expires)
	if err != nil {
		return false
	}
	return t.Before(now)
}

// decay is 2^(-days/180), 1.0 for future-dated documents.
func decay(issued string, now time.Time) float64 {
	t, err := model.ParseTime(issued)
	if err != nil {
		return 1.0
	}
	days := now.Sub(t).Seconds() / 86400
	if days < 0 {
		return 1.0
	}
	return math.Pow(2, -days/DecayHalfLifeDays)
}

// detectRings finds mutual pairs and, via Bron-Kerbosch on the mutual
// subgraph, maximal cliques of size 3 or more.
func (g *graph) detectRings() []Ring {
	var rings []Ring

	seen := make(map[store.Edge]bool)
	for edge := range g.edgeIDs {
		back := store.Edge{Attestor: edge.Subject, Subject: edge.Attestor}
		if _, ok := g.edgeIDs[back]; !ok {
			continue
		}
		a, b := edge.Attestor, edge.Subject
		if a > b {
			a, b = b, a
		}
		key := store.Edge{Attestor: a, Subject: b}
		if seen[key] {
			continue
		}
		seen[key] = true
		rings = append(rings, Ring{
			Members:        []string{a, b},
			Size:           2,
			RingType:       RingMutualPair,
			AttestationIDs: g.idsBetween(a, b),
		})
	}
	sort.Slice(rings, func(i, j int) bool { return rings[i].Members[0] < rings[j].Members[0] })

	rings = append(rings, g.detectCliques()...)
	return rings
}

func (g *graph) detectCliques() []Ring {
	if len(g.edgeIDs) > maxEdgesForCliques {
		return nil
	}

	mutual := make(map[string]map[string]bool)
	for edge := range g.edgeIDs {
		back := store.Edge{Attestor: edge.Subject, Subject: edge.Attestor}
		if _, ok := g.edgeIDs[back]; !ok {
			continue
		}
		if mutual[edge.Attestor] == nil {
			mutual[edge.Attestor] = make(map[string]bool)
		}
		mutual[edge.Attestor][edge.Subject] = true
	}
	if len(mutual) == 0 {
		return nil
	}

	p := make(map[string]bool, len(mutual))
	for v := range mutual {
		p[v] = true
	}
	var cliques [][]string
	bronKerbosch(nil, p, map[string]bool{}, mutual, &cliques)

	var rings []Ring
	for _, clique := range cliques {
		if len(clique) < 3 {
			continue
		}
		members := append([]string(nil), clique...)
		sort.Strings(members)
		var ids []string
		for i, a := range members {
			for _, b := range members[i+1:] {
				ids = append(ids, g.idsBetween(a, b)...)
			}
		}
		rings = append(rings, Ring{
			Members:        members,
			Size:           len(members),
			RingType:       RingClique,
			AttestationIDs: ids,
		})
	}
	sort.Slice(rings, func(i, j int) bool { return rings[i].Members[0] < rings[j].Members[0] })
	return rings
}

// bronKerbosch enumerates maximal cliques without pivoting; the mutual
// subgraph stays small.
func bronKerbosch(r []string, p, x map[string]bool, graph map[string]map[string]bool, out *[][]string) {
	if len(p) == 0 && len(x) == 0 {
		if len(r) >= 2 {
			*out = append(*out, append([]string(nil), r...))
		}
		return
	}
	candidates := make([]string, 0, len(p))
	for v := range p {
		candidates = append(candidates, v)
	}
	sort.Strings(candidates)
	for _, v := range candidates {
		neighbors := graph[v]
		bronKerbosch(append(r, v), intersect(p, neighbors), intersect(x, neighbors), graph, out)
		delete(p, v)
		x[v] = true
	}
}

func intersect(set map[string]bool, neighbors map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for v := range set {
		if neighbors[v] {
			out[v] = true
		}
	}
	return out
}

// idsBetween returns attestation ids in both directions between two keys.
func (g *graph) idsBetween(a, b string) []string {
	ids := append([]string(nil), g.edgeIDs[store.Edge{Attestor: a, Subject: b}]...)
	ids = append(ids, g.edgeIDs[store.Edge{Attestor: b, Subject: a}]...)
	sort.Strings(ids)
	return ids
}

// ringDiscount picks the harshest applicable discount: cliques beat pairs.
func (g *graph) ringDiscount(subject, attestor string) float64 {
	for _, ring := range g.rings {
		if ring.RingType == RingClique && containsAll(ring.Members, subject, attestor) {
			return cliqueDiscount
		}
	}
	for _, ring := range g.rings {
		if ring.RingType == RingMutualPair && containsAll(ring.Members, subject, attestor) {
			return mutualPairDiscount
		}
	}
	return 1.0
}

func containsAll(members []string, keys ...string) bool {
	for _, key := range keys {
		found := false
		for _, m := range members {
			if m == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// reputation is R(p, depth): 1 - exp(-sum of incoming weights), each weight
// carrying the recursive reputation of its attestor. The visited set is
// copied per branch so siblings do not shadow each other.
func (g *graph) reputation(pubkey string, depth int, visited map[string]bool) float64 {
	if depth <= 0 || visited[pubkey] {
		return 0
	}
	incoming := g.bySubject[pubkey]
	if len(incoming) == 0 {
		return 0
	}
	visited[pubkey] = true

	total := 0.0
	for _, rec := range incoming {
		rep := g.reputation(rec.Attestor.Pubkey, depth-1, copySet(visited))
		attestorWeight := baseReputationWeight + (1-baseReputationWeight)*rep
		total += attestorWeight *
			decay(rec.Issued, g.now) *
			g.ringDiscount(rec.Subject.Pubkey, rec.Attestor.Pubkey) *
			rec.EvidenceScore.Composite
	}
	return 1 - math.Exp(-total)
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k := range in {
		out[k] = true
	}
	return out
}

// weight computes the effective weight breakdown for one attestation.
func (g *graph) weight(rec store.AttestationRecord) AttestationWeight {
	proficiency := 1
	if rec.Skill != nil {
		proficiency = rec.Skill.Proficiency
	}
	d := decay(rec.Issued, g.now)
	attestorRep := g.reputation(rec.Attestor.Pubkey, maxReputationDepth, map[string]bool{})
	attestorWeight := baseReputationWeight + (1-baseReputationWeight)*attestorRep
	discount := g.ringDiscount(rec.Subject.Pubkey, rec.Attestor.Pubkey)
	effective := float64(proficiency) * rec.EvidenceScore.Composite * d * attestorWeight * discount

	var flags []string
	if discount < 1.0 {
		flags = append(flags, FlagRingMember)
	}
	if d < 0.25 {
		flags = append(flags, FlagDecayed)
	}
	if attestorRep < 0.01 {
		flags = append(flags, FlagUnattestedAttestor)
	}
	return AttestationWeight{
		AttestationID:      rec.ID,
		RawProficiency:     proficiency,
		EvidenceQuality:    round4(rec.EvidenceScore.Composite),
		DecayFactor:        round4(d),
		AttestorReputation: round4(attestorRep),
		RingDiscount:       round2(discount),
		EffectiveWeight:    round4(effective),
		Flags:              flags,
	}
}

// analyze runs the full per-pubkey analysis over this snapshot.
func (g *graph) analyze(pubkey string) Analysis {
	incoming := g.bySubject[pubkey]
	weights := make([]AttestationWeight, 0, len(incoming))
	for _, rec := range incoming {
		weights = append(weights, g.weight(rec))
	}

	var involved []Ring
	for _, ring := range g.rings {
		if containsAll(ring.Members, pubkey) {
			involved = append(involved, ring)
		}
	}

	return Analysis{
		Pubkey:             pubkey,
		ReputationScore:    round4(g.reputation(pubkey, maxReputationDepth, map[string]bool{})),
		AttestationWeights: weights,
		RingsInvolved:      involved,
		WeightedSkills:     aggregateSkills(incoming, weights),
		AnalysisTimestamp:  model.FormatTime(g.now),
	}
}

func aggregateSkills(recs []store.AttestationRecord, weights []AttestationWeight) []WeightedSkill {
	byID := make(map[string]AttestationWeight, len(weights))
	for _, w := range weights {
		byID[w.AttestationID] = w
	}

	type cluster struct {
		skill         WeightedSkill
		proficiencies []int
		weights       []float64
	}
	clusters := make(map[string]*cluster)
	var order []string
	for _, rec := range recs {
		if rec.Skill == nil {
			continue
		}
		key := rec.Skill.Domain + ":" + rec.Skill.Specific
		c, ok := clusters[key]
		if !ok {
			c = &cluster{skill: WeightedSkill{Domain: rec.Skill.Domain, Specific: rec.Skill.Specific}}
			clusters[key] = c
			order = append(order, key)
		}
		c.proficiencies = append(c.proficiencies, rec.Skill.Proficiency)
		c.weights = append(c.weights, byID[rec.ID].EffectiveWeight)
		c.skill.AttestationCount++
	}

	out := make([]WeightedSkill, 0, len(clusters))
	for _, key := range order {
		c := clusters[key]
		var sum, weightedSum, totalWeight float64
		maxProf := 0
		for i, p := range c.proficiencies {
			sum += float64(p)
			weightedSum += float64(p) * c.weights[i]
			totalWeight += c.weights[i]
			if p > maxProf {
				maxProf = p
			}
		}
		c.skill.MaxProficiency = maxProf
		c.skill.AvgProficiency = round2(sum / float64(len(c.proficiencies)))
		if totalWeight > 0 {
			c.skill.WeightedAvgProficiency = round2(weightedSum / totalWeight)
		} else {
			c.skill.WeightedAvgProficiency = c.skill.AvgProficiency
		}
		out = append(out, c.skill)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MaxProficiency != out[j].MaxProficiency {
			return out[i].MaxProficiency > out[j].MaxProficiency
		}
		return out[i].AttestationCount > out[j].AttestationCount
	})
	return out
}

// health summarizes graph-wide ring participation.
func (g *graph) health() NetworkHealth {
	agents := make(map[string]bool)
	for edge := range g.edgeIDs {
		agents[edge.Attestor] = true
		agents[edge.Subject] = true
	}

	var pairs, cliques int
	ringAgents := make(map[string]bool)
	for _, ring := range g.rings {
		switch ring.RingType {
		case RingMutualPair:
			pairs++
		case RingClique:
			cliques++
		}
		for _, m := range ring.Members {
			ringAgents[m] = true
		}
	}

	h := NetworkHealth{
		TotalAgentsInGraph: len(agents),
		TotalDirectedEdges: len(g.edgeIDs),
		MutualPairCount:    pairs,
		CliqueCount:        cliques,
		AgentsInRings:      len(ringAgents),
	}
	if len(agents) > 0 {
		h.RingParticipationRate = round4(float64(len(ringAgents)) / float64(len(agents)))
	}
	return h
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }
