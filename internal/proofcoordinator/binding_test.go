package proofcoordinator

import (
	"testing"

	"github.com/otcsettle/controlplane/internal/apperr"
)

func TestProjectBindingString_AllDigitsParsedAsDecimal(t *testing.T) {
	got := projectBindingString("12345")
	if got != 12345 {
		t.Fatalf("expected 12345, got %d", got)
	}
}

func TestProjectBindingString_NonDigitHashedDeterministically(t *testing.T) {
	a := projectBindingString("run-abc")
	b := projectBindingString("run-abc")
	if a != b {
		t.Fatalf("expected deterministic projection, got %d and %d", a, b)
	}
	other := projectBindingString("run-xyz")
	if a == other {
		t.Fatalf("expected distinct projections for distinct inputs")
	}
}

func TestSettlementBindingHash_Deterministic(t *testing.T) {
	a := settlementBindingHash("run-1", "v1", "deadbeef", "otc-settlement-v1")
	b := settlementBindingHash("run-1", "v1", "deadbeef", "otc-settlement-v1")
	if a != b {
		t.Fatalf("expected deterministic binding hash")
	}
}

func TestSaturatingMul_CapsAtMaxUint64(t *testing.T) {
	const maxU64 = ^uint64(0)
	got := saturatingMul(maxU64, 2)
	if got != maxU64 {
		t.Fatalf("expected saturation to max uint64, got %d", got)
	}
}

func TestSaturatingAdd_CapsAtMaxUint64(t *testing.T) {
	const maxU64 = ^uint64(0)
	got := saturatingAdd(maxU64, 1)
	if got != maxU64 {
		t.Fatalf("expected saturation to max uint64, got %d", got)
	}
}

func TestVerifyBinding_MismatchIsNonRetryable(t *testing.T) {
	job := &ProofJob{
		WorkflowRunID: "run-1",
		PolicyVersion: "v1",
		ReceiptContext: map[string]any{
			"binding": map[string]any{
				"workflowRunId": "run-1",
				"policyVersion": "v1",
				"receiptHash":   "deadbeef",
			},
		},
	}
	signals := []string{"run-1", "v1", "WRONG_HASH", "otc-settlement-v1"}
	err := verifyBinding(job, signals, "otc-settlement-v1")
	if err == nil {
		t.Fatal("expected binding mismatch error")
	}
	code, _, ok := apperr.AsNonRetryable(err)
	if !ok {
		t.Fatalf("expected a non-retryable marker, got %v", err)
	}
	if code != "BINDING_MISMATCH" {
		t.Fatalf("expected BINDING_MISMATCH, got %s", code)
	}
}

func TestVerifyBinding_PassesOnMatchingSignals(t *testing.T) {
	job := &ProofJob{
		WorkflowRunID: "run-1",
		PolicyVersion: "v1",
		ReceiptContext: map[string]any{
			"binding": map[string]any{
				"workflowRunId": "run-1",
				"policyVersion": "v1",
				"receiptHash":   "deadbeef",
			},
		},
	}
	signals := []string{"run-1", "v1", "deadbeef", "otc-settlement-v1"}
	if err := verifyBinding(job, signals, "otc-settlement-v1"); err != nil {
		t.Fatalf("expected no binding error, got %v", err)
	}
}

func TestVerifyBinding_CustomSignalIndex(t *testing.T) {
	job := &ProofJob{
		WorkflowRunID: "run-1",
		PolicyVersion: "v1",
		ReceiptContext: map[string]any{
			"publicSignalIndex": map[string]any{
				"workflowRunId":   float64(3),
				"policyVersion":   float64(2),
				"receiptHash":     float64(1),
				"domainSeparator": float64(0),
			},
			"binding": map[string]any{
				"workflowRunId": "run-1",
				"policyVersion": "v1",
				"receiptHash":   "deadbeef",
			},
		},
	}
	signals := []string{"otc-settlement-v1", "deadbeef", "v1", "run-1"}
	if err := verifyBinding(job, signals, "otc-settlement-v1"); err != nil {
		t.Fatalf("expected no binding error with remapped indices, got %v", err)
	}
}
