package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kredo-protocol/kredo/model"
)

func TestDefaultsAreOnePerMinutePerClass(t *testing.T) {
	rules := DefaultRules()
	if len(rules) != 7 {
		t.Fatalf("rule count = %d, want 7", len(rules))
	}
	for action, rule := range rules {
		if rule.Window != time.Minute || rule.Limit != 1 {
			t.Fatalf("%s: rule = %+v, want 60s/1", action, rule)
		}
	}
}

func TestSecondHitInWindowIsRejected(t *testing.T) {
	l := New(NewMemoryBackend(), DefaultRules())
	ctx := context.Background()
	if err := l.Allow(ctx, ActionAttestation, "ed25519:ab"); err != nil {
		t.Fatalf("first hit: %v", err)
	}
	err := l.Allow(ctx, ActionAttestation, "ed25519:ab")
	if !model.IsKind(err, model.KindRateLimited) {
		t.Fatalf("second hit: got %v, want rate_limited", err)
	}
	var e *model.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *model.Error, got %T", err)
	}
	retry, ok := e.Details["retry_after_seconds"].(int)
	if !ok || retry < 1 || retry > 60 {
		t.Fatalf("retry_after_seconds = %v", e.Details["retry_after_seconds"])
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(NewMemoryBackend(), DefaultRules())
	ctx := context.Background()
	if err := l.Allow(ctx, ActionRegister, "10.0.0.1"); err != nil {
		t.Fatalf("first key: %v", err)
	}
	if err := l.Allow(ctx, ActionRegister, "10.0.0.2"); err != nil {
		t.Fatalf("second key should be unaffected: %v", err)
	}
}

func TestActionsAreIndependent(t *testing.T) {
	l := New(NewMemoryBackend(), DefaultRules())
	ctx := context.Background()
	key := "ed25519:cd"
	if err := l.Allow(ctx, ActionAttestation, key); err != nil {
		t.Fatalf("attestation: %v", err)
	}
	if err := l.Allow(ctx, ActionRevocation, key); err != nil {
		t.Fatalf("revocation for same key should have its own bucket: %v", err)
	}
}

func TestWindowRollsOver(t *testing.T) {
	rules := DefaultRules()
	rules[ActionDispute] = Rule{Window: 30 * time.Millisecond, Limit: 1}
	l := New(NewMemoryBackend(), rules)
	ctx := context.Background()
	if err := l.Allow(ctx, ActionDispute, "k"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Allow(ctx, ActionDispute, "k"); err == nil {
		t.Fatalf("second hit inside window allowed")
	}
	time.Sleep(40 * time.Millisecond)
	if err := l.Allow(ctx, ActionDispute, "k"); err != nil {
		t.Fatalf("hit after window rollover: %v", err)
	}
}

func TestUnknownActionUnlimited(t *testing.T) {
	l := New(NewMemoryBackend(), DefaultRules())
	for i := 0; i < 5; i++ {
		if err := l.Allow(context.Background(), "profile_read", "k"); err != nil {
			t.Fatalf("unlimited action hit %d: %v", i, err)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	rules := DefaultRules()
	err := ApplyOverrides(rules, `{"attestation":{"window_seconds":10,"limit":3}}`)
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if rules[ActionAttestation].Window != 10*time.Second || rules[ActionAttestation].Limit != 3 {
		t.Fatalf("override not applied: %+v", rules[ActionAttestation])
	}
	if rules[ActionRegister].Window != time.Minute {
		t.Fatalf("unrelated rule changed: %+v", rules[ActionRegister])
	}

	if err := ApplyOverrides(rules, `{"nonsense":{"limit":1}}`); err == nil {
		t.Fatalf("unknown action accepted")
	}
	if err := ApplyOverrides(rules, `{"register":{"window_seconds":0}}`); err == nil {
		t.Fatalf("zero window accepted")
	}
	if err := ApplyOverrides(rules, "not json"); err == nil {
		t.Fatalf("bad json accepted")
	}
	if err := ApplyOverrides(rules, ""); err != nil {
		t.Fatalf("empty overrides should be a no-op: %v", err)
	}
}

func TestHigherLimitAllowsBurst(t *testing.T) {
	rules := DefaultRules()
	rules[ActionOwnership] = Rule{Window: time.Minute, Limit: 3}
	l := New(NewMemoryBackend(), rules)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, ActionOwnership, "k"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, ActionOwnership, "k"); err == nil {
		t.Fatalf("fourth hit allowed with limit 3")
	}
}
