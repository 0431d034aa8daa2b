package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kredo-protocol/kredo/evidence"
	"github.com/kredo-protocol/kredo/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kredo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPubkey(seed byte) string {
	return "ed25519:" + strings.Repeat(strings.ToLower(string([]byte{hexDigit(seed >> 4), hexDigit(seed)})), 32)
}

func hexDigit(b byte) byte {
	const digits = "0123456789abcdef"
	return digits[b&0xF]
}

func testSignature() string {
	return "ed25519:" + strings.Repeat("ab", 64)
}

func testAttestation(attestor, subject string) *model.Attestation {
	issued := model.Now()
	expires := model.FormatTime(time.Now().Add(365 * 24 * time.Hour))
	return &model.Attestation{
		Kredo:    model.KredoVersion,
		ID:       uuid.NewString(),
		Type:     string(model.TypeSkill),
		Subject:  model.Subject{Pubkey: subject, Name: "Bob"},
		Attestor: model.Attestor{Pubkey: attestor, Name: "Alice", Type: "human"},
		Skill:    &model.Skill{Domain: "code-generation", Specific: "code-review", Proficiency: 4},
		Evidence: model.Evidence{
			Context:   "Reviewed pr:auth-47 and confirmed the fix in production logs.",
			Artifacts: []string{"pr:auth-47"},
			Outcome:   "merged",
		},
		Issued:    issued,
		Expires:   expires,
		Signature: testSignature(),
	}
}

func mustInsert(t *testing.T, s *Store, a *model.Attestation) AttestationRecord {
	t.Helper()
	score := evidence.ScoreAttestation(a, time.Now())
	rec, err := s.InsertAttestation(context.Background(), a, score, []byte("canonical:"+a.ID), RequestMeta{ActorPubkey: a.Attestor.Pubkey})
	if err != nil {
		t.Fatalf("InsertAttestation: %v", err)
	}
	return rec
}

func TestContentionDetectedThroughWrappedCause(t *testing.T) {
	busy := internalErr("commit", errors.New("database is locked (5) (SQLITE_BUSY)"))
	if !isContention(busy) {
		t.Fatal("wrapped busy error not treated as contention")
	}
	if !isContention(errors.New("SQLITE_BUSY: database table is locked")) {
		t.Fatal("raw commit error not treated as contention")
	}
	if isContention(model.NewError(model.KindConflict, "claim id already exists")) {
		t.Fatal("domain conflict mistaken for contention")
	}
	if isContention(internalErr("read", errors.New("disk I/O error"))) {
		t.Fatal("unrelated internal error would be retried")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestRegisterUnsignedNeverOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pk := testPubkey(1)

	rec, err := s.RegisterUnsigned(ctx, pk, "Alice", "human", RequestMeta{SourceIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if rec.Name != "Alice" {
		t.Fatalf("name = %q", rec.Name)
	}

	existing, err := s.RegisterUnsigned(ctx, pk, "Mallory", "agent", RequestMeta{})
	if !model.IsKind(err, model.KindConflict) {
		t.Fatalf("second register: got %v, want conflict", err)
	}
	if existing.Name != "Alice" || existing.Type != "human" {
		t.Fatalf("existing record mutated: %+v", existing)
	}

	got, err := s.KnownKey(ctx, pk)
	if err != nil {
		t.Fatalf("KnownKey: %v", err)
	}
	if got.Name != "Alice" || got.Type != "human" {
		t.Fatalf("stored record mutated: %+v", got)
	}
}

func TestRegisterUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pk := testPubkey(2)
	if _, err := s.RegisterUpdate(ctx, pk, "New", "agent", RequestMeta{}); !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("update of unknown key: got %v, want not_found", err)
	}
	if _, err := s.RegisterUnsigned(ctx, pk, "Old", "agent", RequestMeta{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec, err := s.RegisterUpdate(ctx, pk, "New", "agent", RequestMeta{})
	if err != nil {
		t.Fatalf("RegisterUpdate: %v", err)
	}
	if rec.Name != "New" {
		t.Fatalf("name = %q", rec.Name)
	}
}

func TestInsertAttestationAndDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := testAttestation(testPubkey(3), testPubkey(4))

	rec := mustInsert(t, s, a)
	if rec.CID == "" {
		t.Fatalf("no CID recorded")
	}
	pin, err := s.PinForDocument(ctx, a.ID)
	if err != nil {
		t.Fatalf("PinForDocument: %v", err)
	}
	if pin.CID != rec.CID || pin.DocumentType != "attestation" {
		t.Fatalf("pin row = %+v", pin)
	}

	score := evidence.ScoreAttestation(a, time.Now())
	_, err = s.InsertAttestation(ctx, a, score, []byte("canonical:"+a.ID), RequestMeta{})
	if !model.IsKind(err, model.KindConflict) {
		t.Fatalf("duplicate insert: got %v, want conflict", err)
	}

	got, _, err := s.Attestation(ctx, a.ID)
	if err != nil {
		t.Fatalf("Attestation: %v", err)
	}
	if got.Subject.Pubkey != a.Subject.Pubkey || got.Skill == nil || got.Skill.Proficiency != 4 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.EvidenceScore.Composite <= 0 {
		t.Fatalf("score not persisted: %+v", got.EvidenceScore)
	}
}

func TestImplicitSightingDoesNotOverrideRegistration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	attestor, subject := testPubkey(5), testPubkey(6)
	if _, err := s.RegisterUnsigned(ctx, subject, "Bob Registered", "agent", RequestMeta{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	mustInsert(t, s, testAttestation(attestor, subject))

	got, err := s.KnownKey(ctx, subject)
	if err != nil {
		t.Fatalf("KnownKey: %v", err)
	}
	if got.Name != "Bob Registered" {
		t.Fatalf("registration overwritten by sighting: %+v", got)
	}
	// The attestor was never registered; the sighting creates the row.
	if _, err := s.KnownKey(ctx, attestor); err != nil {
		t.Fatalf("attestor not recorded: %v", err)
	}
}

func TestRevocationRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	attestor, subject := testPubkey(7), testPubkey(8)
	a := testAttestation(attestor, subject)
	mustInsert(t, s, a)

	rev := &model.Revocation{
		Kredo: model.KredoVersion, ID: uuid.NewString(), AttestationID: a.ID,
		Revoker: model.Subject{Pubkey: testPubkey(9), Name: "Eve"},
		Reason:  "testing", Issued: model.Now(), Signature: testSignature(),
	}
	if _, err := s.RevokeAttestation(ctx, rev, RequestMeta{}); !model.IsKind(err, model.KindPermission) {
		t.Fatalf("non-attestor revoke: got %v, want permission_error", err)
	}
	got, _, err := s.Attestation(ctx, a.ID)
	if err != nil || got.Revoked() {
		t.Fatalf("target changed by rejected revoke: %v %+v", err, got)
	}

	rev.Revoker.Pubkey = attestor
	rec, err := s.RevokeAttestation(ctx, rev, RequestMeta{})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !rec.Revoked() || rec.RevokerPubkey != attestor {
		t.Fatalf("revocation not applied: %+v", rec)
	}

	rev2 := *rev
	rev2.ID = uuid.NewString()
	if _, err := s.RevokeAttestation(ctx, &rev2, RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("double revoke: got %v, want conflict", err)
	}
}

func TestDisputeRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	carol, bob := testPubkey(10), testPubkey(11)

	warning := testAttestation(carol, bob)
	warning.Type = string(model.TypeWarning)
	warning.Skill = nil
	warning.WarningCategory = string(model.WarningSpam)
	warning.Evidence.Context = strings.Repeat("observed repeated unsolicited promotion in shared channels. ", 9)
	warning.Evidence.Artifacts = []string{"log:session-44", "hash:" + strings.Repeat("ab", 32)}
	mustInsert(t, s, warning)

	skill := testAttestation(carol, bob)
	mustInsert(t, s, skill)

	d := &model.Dispute{
		Kredo: model.KredoVersion, ID: uuid.NewString(), WarningID: skill.ID,
		Disputor: model.Subject{Pubkey: bob, Name: "Bob"},
		Response: "not a warning", Issued: model.Now(), Signature: testSignature(),
	}
	if _, err := s.InsertDispute(ctx, d, RequestMeta{}); !model.IsKind(err, model.KindValidation) {
		t.Fatalf("dispute of non-warning: got %v, want validation_error", err)
	}

	d.WarningID = warning.ID
	d.Disputor.Pubkey = carol
	if _, err := s.InsertDispute(ctx, d, RequestMeta{}); !model.IsKind(err, model.KindPermission) {
		t.Fatalf("dispute by non-subject: got %v, want permission_error", err)
	}

	d.Disputor.Pubkey = bob
	if _, err := s.InsertDispute(ctx, d, RequestMeta{}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	_, disputes, err := s.Attestation(ctx, warning.ID)
	if err != nil {
		t.Fatalf("Attestation: %v", err)
	}
	if len(disputes) != 1 || disputes[0].Disputor.Pubkey != bob {
		t.Fatalf("disputes = %+v", disputes)
	}
}

func TestSearchFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice, bob, carol := testPubkey(12), testPubkey(13), testPubkey(14)

	a1 := testAttestation(alice, bob)
	mustInsert(t, s, a1)
	a2 := testAttestation(carol, bob)
	a2.Skill = &model.Skill{Domain: "security", Specific: "fuzzing", Proficiency: 2}
	mustInsert(t, s, a2)
	a3 := testAttestation(alice, carol)
	mustInsert(t, s, a3)

	rev := &model.Revocation{
		Kredo: model.KredoVersion, ID: uuid.NewString(), AttestationID: a3.ID,
		Revoker: model.Subject{Pubkey: alice}, Reason: "r", Issued: model.Now(), Signature: testSignature(),
	}
	if _, err := s.RevokeAttestation(ctx, rev, RequestMeta{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	recs, total, err := s.SearchAttestations(ctx, SearchQuery{Subject: bob})
	if err != nil || total != 2 || len(recs) != 2 {
		t.Fatalf("subject filter: %v total=%d len=%d", err, total, len(recs))
	}
	recs, total, err = s.SearchAttestations(ctx, SearchQuery{Domain: "security", MinProficiency: 2})
	if err != nil || total != 1 || recs[0].ID != a2.ID {
		t.Fatalf("domain filter: %v total=%d", err, total)
	}
	_, total, err = s.SearchAttestations(ctx, SearchQuery{Attestor: alice})
	if err != nil || total != 1 {
		t.Fatalf("revoked excluded by default: %v total=%d", err, total)
	}
	_, total, err = s.SearchAttestations(ctx, SearchQuery{Attestor: alice, IncludeRevoked: true})
	if err != nil || total != 2 {
		t.Fatalf("include_revoked: %v total=%d", err, total)
	}
}

func TestOwnershipStateMachine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent, human, other := testPubkey(15), testPubkey(16), testPubkey(17)
	if _, err := s.RegisterUnsigned(ctx, agent, "A", "agent", RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterUnsigned(ctx, human, "H", "human", RequestMeta{}); err != nil {
		t.Fatal(err)
	}

	claim := model.OwnershipClaim{
		ClaimID: "claim-00000001", AgentPubkey: agent, HumanPubkey: human,
		ClaimSignature: testSignature(),
	}
	created, err := s.CreateOwnershipClaim(ctx, claim, RequestMeta{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if created.Status != model.OwnershipPending {
		t.Fatalf("status = %q", created.Status)
	}

	// Revoking a pending claim is out of order.
	if _, err := s.RevokeOwnershipClaim(ctx, claim.ClaimID, agent, "r", RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("revoke pending: got %v, want conflict", err)
	}
	// Wrong human cannot confirm.
	if _, err := s.ConfirmOwnershipClaim(ctx, claim.ClaimID, other, testSignature(), RequestMeta{}); !model.IsKind(err, model.KindPermission) {
		t.Fatalf("confirm by other: got %v, want permission_error", err)
	}

	confirmed, err := s.ConfirmOwnershipClaim(ctx, claim.ClaimID, human, testSignature(), RequestMeta{})
	if err != nil || confirmed.Status != model.OwnershipActive {
		t.Fatalf("confirm: %v %+v", err, confirmed)
	}

	// Second claim while one is active.
	second := claim
	second.ClaimID = "claim-00000002"
	if _, err := s.CreateOwnershipClaim(ctx, second, RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("second claim: got %v, want ownership conflict", err)
	}

	owner, err := s.ActiveOwner(ctx, agent)
	if err != nil || owner.HumanPubkey != human {
		t.Fatalf("ActiveOwner: %v %+v", err, owner)
	}

	revoked, err := s.RevokeOwnershipClaim(ctx, claim.ClaimID, human, "moved on", RequestMeta{})
	if err != nil || revoked.Status != model.OwnershipRevoked {
		t.Fatalf("revoke: %v %+v", err, revoked)
	}
	if _, err := s.ActiveOwner(ctx, agent); !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("owner after revoke: %v", err)
	}
}

func TestPendingClaimSupersededByNewClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent, human1, human2 := testPubkey(25), testPubkey(26), testPubkey(27)
	if _, err := s.RegisterUnsigned(ctx, agent, "A", "agent", RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	for _, h := range []string{human1, human2} {
		if _, err := s.RegisterUnsigned(ctx, h, "H", "human", RequestMeta{}); err != nil {
			t.Fatal(err)
		}
	}

	first := model.OwnershipClaim{
		ClaimID: "claim-super-01", AgentPubkey: agent, HumanPubkey: human1,
		ClaimSignature: testSignature(),
	}
	if _, err := s.CreateOwnershipClaim(ctx, first, RequestMeta{}); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// A pending claim does not block a new one; it is abandoned instead.
	second := model.OwnershipClaim{
		ClaimID: "claim-super-02", AgentPubkey: agent, HumanPubkey: human2,
		ClaimSignature: testSignature(),
	}
	created, err := s.CreateOwnershipClaim(ctx, second, RequestMeta{})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if created.Status != model.OwnershipPending {
		t.Fatalf("second status = %q", created.Status)
	}

	expired, err := s.OwnershipClaim(ctx, first.ClaimID)
	if err != nil {
		t.Fatalf("read first claim: %v", err)
	}
	if expired.Status != model.OwnershipPendingExpired {
		t.Fatalf("first status = %q, want %q", expired.Status, model.OwnershipPendingExpired)
	}

	// pending-expired is terminal.
	if _, err := s.ConfirmOwnershipClaim(ctx, first.ClaimID, human1, testSignature(), RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("confirm expired claim: got %v, want conflict", err)
	}

	if _, err := s.ConfirmOwnershipClaim(ctx, second.ClaimID, human2, testSignature(), RequestMeta{}); err != nil {
		t.Fatalf("confirm second: %v", err)
	}
	owner, err := s.ActiveOwner(ctx, agent)
	if err != nil || owner.HumanPubkey != human2 {
		t.Fatalf("ActiveOwner: %v %+v", err, owner)
	}

	// An active claim still blocks new claims until it is revoked.
	third := model.OwnershipClaim{
		ClaimID: "claim-super-03", AgentPubkey: agent, HumanPubkey: human1,
		ClaimSignature: testSignature(),
	}
	if _, err := s.CreateOwnershipClaim(ctx, third, RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("claim over active: got %v, want conflict", err)
	}
}

func TestIntegrityBaselineAndChecks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent, human := testPubkey(18), testPubkey(19)
	if _, err := s.RegisterUnsigned(ctx, agent, "A", "agent", RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterUnsigned(ctx, human, "H", "human", RequestMeta{}); err != nil {
		t.Fatal(err)
	}

	manifest, err := NormalizeManifest([]model.FileHash{
		{Path: "lib/core.so", SHA256: strings.Repeat("cd", 32)},
		{Path: "bin/agent", SHA256: strings.Repeat("ab", 32)},
	})
	if err != nil {
		t.Fatalf("NormalizeManifest: %v", err)
	}
	if manifest[0].Path != "bin/agent" {
		t.Fatalf("manifest not sorted: %+v", manifest)
	}

	b := model.IntegrityBaseline{
		BaselineID: "baseline-0001", AgentPubkey: agent, OwnerPubkey: human,
		FileHashes: manifest, OwnerSignature: testSignature(),
	}
	// No active owner yet.
	if _, err := s.SetIntegrityBaseline(ctx, b, RequestMeta{}); !model.IsKind(err, model.KindPermission) {
		t.Fatalf("baseline without owner: got %v, want permission_error", err)
	}

	claim := model.OwnershipClaim{ClaimID: "claim-00000003", AgentPubkey: agent, HumanPubkey: human, ClaimSignature: testSignature()}
	if _, err := s.CreateOwnershipClaim(ctx, claim, RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConfirmOwnershipClaim(ctx, claim.ClaimID, human, testSignature(), RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetIntegrityBaseline(ctx, b, RequestMeta{}); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	// Matching check → green.
	check, err := s.RecordIntegrityCheck(ctx, model.IntegrityCheck{
		CheckID: "check-00000001", AgentPubkey: agent, FileHashes: manifest, AgentSignature: testSignature(),
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Status != model.TrafficGreen || !check.Diff.Empty() {
		t.Fatalf("matching check: %+v", check)
	}

	status, err := s.IntegrityStatusFor(ctx, agent)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TrafficLight != model.TrafficGreen || status.StatusLabel != LabelVerified || status.RecommendedAction != ActionSafeToRun {
		t.Fatalf("green gate: %+v", status.IntegrityGate)
	}

	// Added file only → yellow.
	added := append(append([]model.FileHash{}, manifest...), model.FileHash{Path: "plugins/x.so", SHA256: strings.Repeat("ef", 32)})
	check, err = s.RecordIntegrityCheck(ctx, model.IntegrityCheck{
		CheckID: "check-00000002", AgentPubkey: agent, FileHashes: added, AgentSignature: testSignature(),
	}, RequestMeta{})
	if err != nil || check.Status != model.TrafficYellow {
		t.Fatalf("added-only check: %v %+v", err, check)
	}

	// Changed baseline file → red.
	changed := append([]model.FileHash{}, manifest...)
	changed[0].SHA256 = strings.Repeat("99", 32)
	check, err = s.RecordIntegrityCheck(ctx, model.IntegrityCheck{
		CheckID: "check-00000003", AgentPubkey: agent, FileHashes: changed, AgentSignature: testSignature(),
	}, RequestMeta{})
	if err != nil || check.Status != model.TrafficRed {
		t.Fatalf("changed check: %v %+v", err, check)
	}
	if len(check.Diff.Changed) != 1 || check.Diff.Changed[0] != "bin/agent" {
		t.Fatalf("diff = %+v", check.Diff)
	}

	status, err = s.IntegrityStatusFor(ctx, agent)
	if err != nil || status.TrafficLight != model.TrafficRed || status.RecommendedAction != ActionBlockRun {
		t.Fatalf("red gate: %v %+v", err, status.IntegrityGate)
	}
}

func TestIntegrityStatusWithoutBaseline(t *testing.T) {
	s := openTestStore(t)
	status, err := s.IntegrityStatusFor(context.Background(), testPubkey(20))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TrafficLight != model.TrafficRed || status.StatusLabel != LabelUnknownUnsigned {
		t.Fatalf("no-baseline gate: %+v", status.IntegrityGate)
	}
}

func TestWriteHooksFireOnCommitOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var seen [][]string
	s.OnWrite(func(pubkeys []string) { seen = append(seen, pubkeys) })

	a := testAttestation(testPubkey(21), testPubkey(22))
	mustInsert(t, s, a)
	if len(seen) != 1 || len(seen[0]) != 2 {
		t.Fatalf("hooks after accept: %+v", seen)
	}

	score := evidence.ScoreAttestation(a, time.Now())
	if _, err := s.InsertAttestation(ctx, a, score, nil, RequestMeta{}); err == nil {
		t.Fatalf("duplicate accepted")
	}
	if len(seen) != 1 {
		t.Fatalf("hook fired for rejected write: %+v", seen)
	}
}

func TestSourceAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	meta := RequestMeta{SourceIP: "198.51.100.7"}
	for i := 0; i < 4; i++ {
		actor := testPubkey(byte(30 + i))
		if err := s.AppendAudit(ctx, AuditRegistrationCreate, model.OutcomeAccepted,
			RequestMeta{ActorPubkey: actor, SourceIP: meta.SourceIP}, nil); err != nil {
			t.Fatalf("audit: %v", err)
		}
	}

	anomalies, err := s.SourceAnomalies(ctx, 24, 3, 3, 10)
	if err != nil {
		t.Fatalf("SourceAnomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	got := anomalies[0]
	if got.SourceIPHash != HashIP(meta.SourceIP) || got.EventCount != 4 || got.UniqueActorCount != 4 {
		t.Fatalf("anomaly row = %+v", got)
	}
	if got.RegistrationCount != 4 {
		t.Fatalf("registration count = %d", got.RegistrationCount)
	}

	// Below the actor floor nothing is reported.
	anomalies, err = s.SourceAnomalies(ctx, 24, 3, 10, 10)
	if err != nil || len(anomalies) != 0 {
		t.Fatalf("floor not applied: %v %+v", err, anomalies)
	}
}

func TestCustomTaxonomyRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	creator := testPubkey(40)

	if err := s.CreateCustomDomain(ctx, "robotics", "Robotics", creator, RequestMeta{}); err != nil {
		t.Fatalf("create domain: %v", err)
	}
	if err := s.CreateCustomDomain(ctx, "robotics", "Robotics", creator, RequestMeta{}); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("duplicate domain: %v", err)
	}
	if err := s.CreateCustomSkill(ctx, "robotics", "motion-planning", creator, RequestMeta{}); err != nil {
		t.Fatalf("create skill: %v", err)
	}

	domains, err := s.ListCustomDomains(ctx)
	if err != nil || len(domains) != 1 || domains[0].ID != "robotics" {
		t.Fatalf("domains = %v %+v", err, domains)
	}
	skills, err := s.ListCustomSkills(ctx)
	if err != nil || len(skills) != 1 || skills[0].Domain != "robotics" {
		t.Fatalf("skills = %v %+v", err, skills)
	}

	if err := s.DeleteCustomSkill(ctx, "robotics", "motion-planning", testPubkey(41), RequestMeta{}); !model.IsKind(err, model.KindPermission) {
		t.Fatalf("delete by non-creator: %v", err)
	}
	if err := s.DeleteCustomSkill(ctx, "robotics", "motion-planning", creator, RequestMeta{}); err != nil {
		t.Fatalf("delete skill: %v", err)
	}
	if err := s.DeleteCustomDomain(ctx, "robotics", creator, RequestMeta{}); err != nil {
		t.Fatalf("delete domain: %v", err)
	}

	// Domain and skill operations audit under distinct dotted actions.
	for _, action := range []string{AuditDomainCreate, AuditSkillCreate, AuditDomainDelete, AuditSkillDelete} {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_events WHERE action = ?`, action).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", action, err)
		}
		if n != 1 {
			t.Fatalf("audit rows for %s = %d, want 1", action, n)
		}
	}
}

func TestProfileBundle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice, bob := testPubkey(50), testPubkey(51)
	if _, err := s.RegisterUnsigned(ctx, bob, "Bob", "agent", RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	mustInsert(t, s, testAttestation(alice, bob))

	bundle, err := s.ProfileBundleFor(ctx, bob)
	if err != nil {
		t.Fatalf("ProfileBundleFor: %v", err)
	}
	if bundle.Key.Name != "Bob" || len(bundle.Attestations) != 1 {
		t.Fatalf("bundle = %+v", bundle)
	}
	if len(bundle.Attestors) != 1 || bundle.Attestors[0].Pubkey != alice || bundle.Attestors[0].Count != 1 {
		t.Fatalf("attestors = %+v", bundle.Attestors)
	}
	if bundle.ActiveOwner != nil {
		t.Fatalf("unexpected owner: %+v", bundle.ActiveOwner)
	}
	if bundle.Integrity.TrafficLight != model.TrafficRed {
		t.Fatalf("integrity = %+v", bundle.Integrity.IntegrityGate)
	}
}
