package policysnapshot

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
)

func newTestService() *Service {
	return New(zap.NewNop(), NewMemRepository(), nil, false, "")
}

func sampleRules(minN, maxN int64) RuleBundle {
	var r RuleBundle
	r.Limits.MinNotional = minN
	r.Limits.MaxNotional = maxN
	r.Countries = []string{"US", "GB"}
	r.Thresholds.ReviewConfidence = 60
	r.Thresholds.FailConfidence = 90
	return r
}

func TestCreateSnapshot_HashDependsOnlyOnCanonicalOrdering(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	res1, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	s2 := newTestService()
	res2, err := s2.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil)
	if err != nil {
		t.Fatalf("create on second instance: %v", err)
	}

	if res1.PolicyHash != res2.PolicyHash {
		t.Fatalf("policy_hash should depend only on canonical rules, got %s vs %s", res1.PolicyHash, res2.PolicyHash)
	}
}

func TestCreateSnapshot_IdempotentOnIdenticalPayload(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	first, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Idempotent {
		t.Fatalf("first create should not be reported idempotent")
	}

	second, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.Idempotent {
		t.Fatalf("resubmitting identical payload should be idempotent")
	}
	if second.PolicyHash != first.PolicyHash {
		t.Fatalf("idempotent resubmit changed policy_hash")
	}
}

func TestCreateSnapshot_ConflictOnDifferentPayloadSameVersion(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateSnapshot(ctx, "v1", sampleRules(200, 2000), "", nil)
	if err == nil {
		t.Fatalf("expected IMMUTABLE_VERSION_CONFLICT, got nil")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != "IMMUTABLE_VERSION_CONFLICT" {
		t.Fatalf("expected IMMUTABLE_VERSION_CONFLICT, got %v", err)
	}
}

func TestCreateSnapshot_HashMismatchRejected(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "deadbeef", nil)
	if err == nil {
		t.Fatalf("expected POLICY_HASH_MISMATCH, got nil")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodePolicyHashMismatch {
		t.Fatalf("expected POLICY_HASH_MISMATCH, got %v", err)
	}
}

func TestActivatePolicy_DeactivatesPrevious(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if _, err := s.CreateSnapshot(ctx, "v2", sampleRules(100, 2000), "", nil); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	if _, err := s.ActivatePolicy(ctx, "onchain-1", "v1"); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	mapping2, err := s.ActivatePolicy(ctx, "onchain-2", "v2")
	if err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	if mapping2.PolicyVersion != "v2" {
		t.Fatalf("expected active mapping to be v2, got %s", mapping2.PolicyVersion)
	}

	active, found, err := s.GetActive(ctx)
	if err != nil || !found {
		t.Fatalf("get active: found=%v err=%v", found, err)
	}
	if active.PolicyVersion != "v2" {
		t.Fatalf("expected v2 active, got %s", active.PolicyVersion)
	}
}

func TestGetEffectivePolicyForRun_ConflictOnDifferentParameters(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.CreateSnapshot(ctx, "v1", sampleRules(100, 1000), "", nil); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	activatedAt := time.Now().Add(-time.Hour)
	if _, err := s.repo.GetByVersion(ctx, "v1"); err != nil {
		t.Fatalf("sanity read: %v", err)
	}
	mapping := &ActiveMapping{OnchainPolicyVersion: "onchain-1", PolicyVersion: "v1", PolicyHash: mustHash(t, s, ctx, "v1"), ActivatedAt: activatedAt}
	if err := s.repo.InsertActivation(ctx, mapping); err != nil {
		t.Fatalf("insert activation: %v", err)
	}

	t1 := time.Now().Unix()
	hint := "v1"
	ev1, err := s.GetEffectivePolicyForRun(ctx, "run-xyz", t1, &hint)
	if err != nil {
		t.Fatalf("first effective lookup: %v", err)
	}
	if ev1.PolicyVersion != "v1" {
		t.Fatalf("expected v1, got %s", ev1.PolicyVersion)
	}

	hint2 := "v2"
	_, err = s.GetEffectivePolicyForRun(ctx, "run-xyz", t1+10, &hint2)
	if err == nil {
		t.Fatalf("expected RUN_EVIDENCE_CONFLICT on differing parameters, got nil")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeRunEvidenceConflict {
		t.Fatalf("expected RUN_EVIDENCE_CONFLICT, got %v", err)
	}
}

func mustHash(t *testing.T, s *Service, ctx context.Context, version string) string {
	t.Helper()
	snap, found, err := s.GetSnapshotByVersion(ctx, version)
	if err != nil || !found {
		t.Fatalf("lookup snapshot %s: found=%v err=%v", version, found, err)
	}
	return snap.PolicyHash
}
