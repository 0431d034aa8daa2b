// Package ratelimit applies fixed-window counters per (action, key) to the
// write endpoints. Window and limit values are part of the service contract.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kredo-protocol/kredo/model"
)

// Action classes. Every write endpoint maps to exactly one; GETs are never
// rate limited.
const (
	ActionRegister    = "register"
	ActionAttestation = "attestation"
	ActionRevocation  = "revocation"
	ActionDispute     = "dispute"
	ActionOwnership   = "ownership"
	ActionIntegrity   = "integrity"
	ActionTaxonomy    = "taxonomy"
)

// Rule is the window and allowance for one action class.
type Rule struct {
	Window time.Duration `json:"-"`
	Limit  int64         `json:"limit"`
}

// DefaultRules returns the contractual defaults: one write per key per
// minute for every action class.
func DefaultRules() map[string]Rule {
	rules := make(map[string]Rule, 7)
	for _, action := range []string{
		ActionRegister, ActionAttestation, ActionRevocation,
		ActionDispute, ActionOwnership, ActionIntegrity, ActionTaxonomy,
	} {
		rules[action] = Rule{Window: time.Minute, Limit: 1}
	}
	return rules
}

// Backend counts hits per bucket. Incr returns the count including the
// current hit for the bucket identified by key, where all hits within the
// same window share a bucket. An external shared store (e.g. a cache server)
// can implement this for multi-instance deployments.
type Backend interface {
	Incr(ctx context.Context, bucket string, window time.Duration) (int64, error)
}

// MemoryBackend is the in-process Backend for single-instance deployments.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int64
}

// NewMemoryBackend returns an empty in-process counter store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: map[string]*bucket{}}
}

// Incr implements Backend with per-bucket fixed windows anchored at first
// hit. Expired buckets are reset in place; a periodic sweep is unnecessary
// because the key space is bounded by active clients.
func (m *MemoryBackend) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: now}
		m.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// retryAfter reports whole seconds until the bucket's window rolls over,
// rounded up, minimum 1.
func (m *MemoryBackend) retryAfter(key string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		return 1
	}
	remaining := window - time.Since(b.windowStart)
	if remaining <= 0 {
		return 1
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter checks write requests against the configured rules.
type Limiter struct {
	backend Backend
	rules   map[string]Rule
}

// New builds a limiter. rules normally comes from DefaultRules, optionally
// adjusted by ApplyOverrides.
func New(backend Backend, rules map[string]Rule) *Limiter {
	return &Limiter{backend: backend, rules: rules}
}

// Allow consumes one hit for (action, key). When the allowance is exhausted
// it fails with rate_limited carrying retry_after_seconds. Unknown actions
// are unlimited.
func (l *Limiter) Allow(ctx context.Context, action, key string) error {
	rule, ok := l.rules[action]
	if !ok || rule.Limit <= 0 {
		return nil
	}
	bucketKey := action + ":" + key
	count, err := l.backend.Incr(ctx, bucketKey, rule.Window)
	if err != nil {
		return model.WrapError(model.KindInternal, "rate limit backend unavailable", err)
	}
	if count <= rule.Limit {
		return nil
	}
	retry := int(rule.Window / time.Second)
	if mb, ok := l.backend.(*MemoryBackend); ok {
		retry = mb.retryAfter(bucketKey, rule.Window)
	}
	return model.NewError(model.KindRateLimited,
		fmt.Sprintf("rate limit exceeded for %s", action)).
		WithDetail("retry_after_seconds", retry)
}

// ApplyOverrides merges a RATE_LIMITS_JSON document into rules. The document
// maps action class to {"window_seconds": N, "limit": M}; absent fields keep
// their defaults, unknown actions are rejected.
func ApplyOverrides(rules map[string]Rule, overridesJSON string) error {
	if overridesJSON == "" {
		return nil
	}
	var raw map[string]struct {
		WindowSeconds *int64 `json:"window_seconds"`
		Limit         *int64 `json:"limit"`
	}
	if err := json.Unmarshal([]byte(overridesJSON), &raw); err != nil {
		return fmt.Errorf("rate limit overrides: %w", err)
	}
	for action, o := range raw {
		rule, ok := rules[action]
		if !ok {
			return fmt.Errorf("rate limit overrides: unknown action %q", action)
		}
		if o.WindowSeconds != nil {
			if *o.WindowSeconds <= 0 {
				return fmt.Errorf("rate limit overrides: window_seconds for %q must be positive", action)
			}
			rule.Window = time.Duration(*o.WindowSeconds) * time.Second
		}
		if o.Limit != nil {
			rule.Limit = *o.Limit
		}
		rules[action] = rule
	}
	return nil
}
