package complianceattestor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/kvstore/kvtest"
)

func writeFixtureFiles(t *testing.T) (policyPath, sanctionsPath string) {
	t.Helper()
	dir := t.TempDir()

	policy := PolicySnapshotFile{}
	policy.Active.Version = "policy-v1"
	policy.Active.Hash = "deadbeefcafebabe"
	policy.Thresholds.ReviewConfidence = 60
	policy.Thresholds.FailConfidence = 90
	policy.Thresholds.PassRiskScore = 10
	policy.Thresholds.ReviewRiskScore = 50
	policy.Thresholds.FailRiskScore = 95
	policyRaw, _ := json.Marshal(policy)
	policyPath = filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policyPath, policyRaw, 0o600); err != nil {
		t.Fatalf("write policy fixture: %v", err)
	}

	sanctions := []SanctionsEntry{
		{Source: "OFAC", Program: "SDN", Name: "Acme Sanctioned Corp"},
		{Source: "OFAC", Program: "SDN", Name: "Jane Blocklisted"},
	}
	sanctionsRaw, _ := json.Marshal(sanctions)
	sanctionsPath = filepath.Join(dir, "sanctions.json")
	if err := os.WriteFile(sanctionsPath, sanctionsRaw, 0o600); err != nil {
		t.Fatalf("write sanctions fixture: %v", err)
	}
	return policyPath, sanctionsPath
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	policyPath, sanctionsPath := writeFixtureFiles(t)
	kv := kvtest.NewStore(t)
	s, err := New(zap.NewNop(), NewMemRepository(), kv, Config{
		MaxAge:             time.Hour,
		MaxFutureSkew:      time.Minute,
		AttestationTTL:     24 * time.Hour,
		ReplayTTL:          time.Hour,
		PolicySnapshotPath: policyPath,
		SanctionsDataPath:  sanctionsPath,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func cleanSubject(id string) AttestRequest {
	return AttestRequest{
		WorkflowRunID: "wrun-1",
		RequestID:     "req-1",
		Nonce:         "nonce-1",
		Timestamp:     time.Now().Unix(),
		Subjects: []SubjectInput{
			{Counterparty: &CounterpartySubject{ID: id, Country: "US"}},
		},
	}
}

func TestAttestCompliance_PassesCleanSubject(t *testing.T) {
	s := newTestService(t)
	req := cleanSubject("clean-party-1")

	a, idempotent, err := s.AttestCompliance(context.Background(), req)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if idempotent {
		t.Fatalf("first call should not be idempotent")
	}
	if a.Decision != DecisionPass {
		t.Fatalf("expected PASS, got %s", a.Decision)
	}
	if a.AttestationID[:5] != "attn_" {
		t.Fatalf("expected attn_ prefix, got %s", a.AttestationID)
	}
}

func TestAttestCompliance_FlagsExactSanctionsMatch(t *testing.T) {
	s := newTestService(t)
	req := AttestRequest{
		WorkflowRunID: "wrun-2",
		RequestID:     "req-2",
		Nonce:         "nonce-2",
		Timestamp:     time.Now().Unix(),
		Subjects: []SubjectInput{
			{Entity: &EntitySubject{ID: "entity-1", LegalName: "Acme Sanctioned Corp"}},
		},
	}

	a, _, err := s.AttestCompliance(context.Background(), req)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if a.Decision != DecisionFail {
		t.Fatalf("expected FAIL for exact sanctions match, got %s", a.Decision)
	}
	if a.SanctionsHitCount == 0 {
		t.Fatalf("expected at least one sanctions hit")
	}
}

func TestAttestCompliance_IdempotentOnSameRequestID(t *testing.T) {
	s := newTestService(t)
	req := cleanSubject("clean-party-2")

	first, _, err := s.AttestCompliance(context.Background(), req)
	if err != nil {
		t.Fatalf("first attest: %v", err)
	}
	second, idempotent, err := s.AttestCompliance(context.Background(), req)
	if err != nil {
		t.Fatalf("second attest: %v", err)
	}
	if !idempotent {
		t.Fatalf("expected idempotent replay")
	}
	if second.AttestationHash != first.AttestationHash {
		t.Fatalf("idempotent replay changed attestation hash")
	}
}

func TestAttestCompliance_IdempotencyConflictOnDifferentPayload(t *testing.T) {
	s := newTestService(t)
	req := cleanSubject("clean-party-3")
	if _, _, err := s.AttestCompliance(context.Background(), req); err != nil {
		t.Fatalf("first attest: %v", err)
	}

	req2 := req
	req2.Nonce = "nonce-different"
	_, _, err := s.AttestCompliance(context.Background(), req2)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeIdempotencyConflict {
		t.Fatalf("expected IDEMPOTENCY_CONFLICT, got %v", err)
	}
}

func TestAttestCompliance_RejectsSubjectWithBothVariants(t *testing.T) {
	s := newTestService(t)
	req := AttestRequest{
		WorkflowRunID: "wrun-4",
		RequestID:     "req-4",
		Nonce:         "nonce-4",
		Timestamp:     time.Now().Unix(),
		Subjects: []SubjectInput{
			{
				Counterparty: &CounterpartySubject{ID: "x"},
				Entity:       &EntitySubject{ID: "y"},
			},
		},
	}
	_, _, err := s.AttestCompliance(context.Background(), req)
	if err == nil {
		t.Fatalf("expected a validation error for dual-variant subject")
	}
}

func TestNormalize_CollapsesWhitespaceAndPunctuation(t *testing.T) {
	got := normalize("  Acme,  Sanctioned   Corp. ")
	want := "acme sanctioned corp"
	if got != want {
		t.Fatalf("normalize() = %q, want %q", got, want)
	}
}
