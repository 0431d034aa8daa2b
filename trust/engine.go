package trust

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/kredo-protocol/kredo/model"
	"github.com/kredo-protocol/kredo/store"
)

// DefaultCacheTTL is how long computed analyses stay fresh.
const DefaultCacheTTL = 30 * time.Second

const maxCacheEntries = 2048

// Cache keys. Per-pubkey analyses get "analysis:" + pubkey.
const (
	cacheKeyAnalysisPrefix = "analysis:"
	cacheKeyRings          = "rings"
	cacheKeyNetworkHealth  = "network-health"
)

// Accountability is the human-backing tier for an agent.
type Accountability struct {
	Tier       string                `json:"tier"`
	Multiplier float64               `json:"multiplier"`
	Owner      *model.OwnershipClaim `json:"-"`
}

// Accountability tiers.
const (
	TierHumanLinked = "human-linked"
	TierUnlinked    = "unlinked"
)

// AccountabilityFor maps an (optional) active ownership claim to a tier.
func AccountabilityFor(owner *model.OwnershipClaim) Accountability {
	if owner != nil && owner.Status == model.OwnershipActive {
		return Accountability{Tier: TierHumanLinked, Multiplier: 1.0, Owner: owner}
	}
	return Accountability{Tier: TierUnlinked, Multiplier: 0.6}
}

// IntegrityMultiplier maps a traffic light to its deployability factor.
func IntegrityMultiplier(light string) float64 {
	switch light {
	case model.TrafficGreen:
		return 1.0
	case model.TrafficYellow:
		return 0.5
	default:
		return 0.0
	}
}

// Engine computes trust analyses over the store with a short-TTL cache.
// Store commit hooks invalidate affected entries, so a write touching a
// pubkey is visible on the next read.
type Engine struct {
	store *store.Store
	cache *expirable.LRU[string, any]
	group singleflight.Group
	now   func() time.Time
}

// NewEngine builds an engine over st and subscribes to its write hooks.
// ttl <= 0 falls back to DefaultCacheTTL.
func NewEngine(st *store.Store, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	e := &Engine{
		store: st,
		cache: expirable.NewLRU[string, any](maxCacheEntries, nil, ttl),
		now:   time.Now,
	}
	st.OnWrite(e.Invalidate)
	return e
}

// Invalidate drops cached entries for the given pubkeys plus the global
// views. An empty slice drops everything.
func (e *Engine) Invalidate(pubkeys []string) {
	if len(pubkeys) == 0 {
		e.cache.Purge()
		return
	}
	for _, pk := range pubkeys {
		e.cache.Remove(cacheKeyAnalysisPrefix + pk)
	}
	e.cache.Remove(cacheKeyRings)
	e.cache.Remove(cacheKeyNetworkHealth)
}

// Analyze returns the trust analysis for one pubkey.
func (e *Engine) Analyze(ctx context.Context, pubkey string) (Analysis, error) {
	v, err := e.cached(ctx, cacheKeyAnalysisPrefix+pubkey, func(g *graph) any {
		return g.analyze(pubkey)
	})
	if err != nil {
		return Analysis{}, err
	}
	return v.(Analysis), nil
}

// Rings returns the network-wide ring report.
func (e *Engine) Rings(ctx context.Context) (RingReport, error) {
	v, err := e.cached(ctx, cacheKeyRings, func(g *graph) any {
		rings := g.rings
		if rings == nil {
			rings = []Ring{}
		}
		return RingReport{RingCount: len(rings), Rings: rings}
	})
	if err != nil {
		return RingReport{}, err
	}
	return v.(RingReport), nil
}

// NetworkHealth returns graph-wide statistics.
func (e *Engine) NetworkHealth(ctx context.Context) (NetworkHealth, error) {
	v, err := e.cached(ctx, cacheKeyNetworkHealth, func(g *graph) any {
		return g.health()
	})
	if err != nil {
		return NetworkHealth{}, err
	}
	return v.(NetworkHealth), nil
}

// Deployability combines reputation with accountability and integrity into
// the final run-gate score.
type Deployability struct {
	Accountability Accountability
	IntegrityLight string
	Multiplier     float64
	Score          float64
}

// DeployabilityFor resolves accountability and integrity for a pubkey and
// applies them to its reputation score.
func (e *Engine) DeployabilityFor(ctx context.Context, pubkey string, reputation float64) (Deployability, error) {
	var owner *model.OwnershipClaim
	claim, err := e.store.ActiveOwner(ctx, pubkey)
	switch {
	case err == nil:
		owner = &claim
	case !model.IsKind(err, model.KindNotFound):
		return Deployability{}, err
	}
	integrity, err := e.store.IntegrityStatusFor(ctx, pubkey)
	if err != nil {
		return Deployability{}, err
	}

	acc := AccountabilityFor(owner)
	multiplier := acc.Multiplier * IntegrityMultiplier(integrity.TrafficLight)
	return Deployability{
		Accountability: acc,
		IntegrityLight: integrity.TrafficLight,
		Multiplier:     round4(multiplier),
		Score:          round4(reputation * multiplier),
	}, nil
}

// cached returns the value under key, computing it over a fresh graph
// snapshot on miss. Singleflight collapses concurrent recomputation.
func (e *Engine) cached(ctx context.Context, key string, compute func(*graph) any) (any, error) {
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := e.group.Do(key, func() (any, error) {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
		recs, err := e.store.ActiveAttestations(ctx)
		if err != nil {
			return nil, err
		}
		g := buildGraph(recs, e.now())
		v := compute(g)
		e.cache.Add(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
