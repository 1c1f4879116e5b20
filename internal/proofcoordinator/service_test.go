package proofcoordinator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/kvstore/kvtest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	kv := kvtest.NewStore(t)
	return New(zap.NewNop(), NewMemRepository(), kv, Config{
		ReplayTTL:       time.Hour,
		PollInterval:    50 * time.Millisecond,
		Lease:           time.Second,
		MaxRetries:      2,
		BackoffBase:     10 * time.Millisecond,
		DomainSeparator: "otc-settlement-v1",
	})
}

func baseRequest() SubmitProofJobRequest {
	return SubmitProofJobRequest{
		WorkflowRunID:  "run-1",
		PolicyVersion:  "v1",
		ProofType:      ProofTypeSettlement,
		ReceiptContext: map[string]any{"receiptHash": "deadbeef"},
		IdempotencyKey: "idem-1",
	}
}

func TestSubmitProofJob_EnqueuesAndMintsJobID(t *testing.T) {
	s := newTestService(t)
	res, err := s.SubmitProofJob(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusQueued || res.Idempotent {
		t.Fatalf("expected fresh QUEUED submission, got %+v", res)
	}

	n, err := s.kv.LLen(context.Background(), queueKey)
	if err != nil {
		t.Fatalf("queue length: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one queued entry, got %d", n)
	}
}

func TestSubmitProofJob_IdempotentOnSameIdempotencyKey(t *testing.T) {
	s := newTestService(t)
	req := baseRequest()

	first, err := s.SubmitProofJob(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := s.SubmitProofJob(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Idempotent || second.JobID != first.JobID {
		t.Fatalf("expected idempotent replay of %s, got %+v", first.JobID, second)
	}
}

func TestSubmitProofJob_IdempotencyConflictOnDifferentPayload(t *testing.T) {
	s := newTestService(t)
	req := baseRequest()
	if _, err := s.SubmitProofJob(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req2 := req
	req2.ReceiptContext = map[string]any{"receiptHash": "different"}
	_, err := s.SubmitProofJob(context.Background(), req2)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeIdempotencyConflict {
		t.Fatalf("expected IDEMPOTENCY_CONFLICT, got %v", err)
	}
}

func TestSubmitProofJob_RejectsDuplicateRunAndProofType(t *testing.T) {
	s := newTestService(t)
	req := baseRequest()
	if _, err := s.SubmitProofJob(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req2 := req
	req2.IdempotencyKey = "idem-2"
	req2.ReceiptContext = map[string]any{"receiptHash": "other"}
	_, err := s.SubmitProofJob(context.Background(), req2)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeReplayRunProofType {
		t.Fatalf("expected REPLAY_RUN_PROOF_TYPE, got %v", err)
	}
}

func TestSubmitProofJob_RejectsDuplicateReceiptHashAcrossDifferentRuns(t *testing.T) {
	s := newTestService(t)
	req := baseRequest()
	if _, err := s.SubmitProofJob(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// Different workflow_run_id and idempotency_key, but the same
	// receiptHash: must be rejected on the receipt_hash guard, proving the
	// reservation is keyed on the extracted value and not on a hash of the
	// whole request (which would differ here and let both through).
	req2 := req
	req2.WorkflowRunID = "run-2"
	req2.IdempotencyKey = "idem-2"
	_, err := s.SubmitProofJob(context.Background(), req2)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeReplayReceiptHash {
		t.Fatalf("expected REPLAY_RECEIPT_HASH, got %v", err)
	}
}

func TestSubmitProofJob_AllowsMissingReceiptHashAcrossMultipleRuns(t *testing.T) {
	s := newTestService(t)
	req := baseRequest()
	req.ReceiptContext = map[string]any{}
	req.WorkflowRunID = "run-a"
	req.IdempotencyKey = "idem-a"
	if _, err := s.SubmitProofJob(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req2 := req
	req2.WorkflowRunID = "run-b"
	req2.IdempotencyKey = "idem-b"
	if _, err := s.SubmitProofJob(context.Background(), req2); err != nil {
		t.Fatalf("expected no receipt_hash collision when receiptHash is absent from both, got %v", err)
	}
}

func TestUpdateStatus_EnforcesStateMachine(t *testing.T) {
	s := newTestService(t)
	res, err := s.SubmitProofJob(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusPublished, "", ""); err == nil {
		t.Fatal("expected QUEUED -> PUBLISHED to be rejected")
	}

	job, err := s.UpdateStatus(context.Background(), res.JobID, StatusProving, "", "")
	if err != nil {
		t.Fatalf("QUEUED -> PROVING: %v", err)
	}
	if job.Status != StatusProving {
		t.Fatalf("expected PROVING, got %s", job.Status)
	}

	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusFailed, "", ""); err == nil {
		t.Fatal("expected FAILED without an error code to be rejected")
	}

	job, err = s.UpdateStatus(context.Background(), res.JobID, StatusFailed, "PROVE_TIMEOUT", "prover timed out")
	if err != nil {
		t.Fatalf("PROVING -> FAILED: %v", err)
	}
	if job.Status != StatusFailed || job.LastErrorCode != "PROVE_TIMEOUT" {
		t.Fatalf("expected FAILED with recorded error, got %+v", job)
	}
}

func TestUpdateStatus_IdempotentOnIdenticalRepeat(t *testing.T) {
	s := newTestService(t)
	res, err := s.SubmitProofJob(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusProving, "", ""); err != nil {
		t.Fatalf("QUEUED -> PROVING: %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusProving, "", ""); err != nil {
		t.Fatalf("expected repeated identical transition to be idempotent, got %v", err)
	}
}

func TestRetryProofJob_RejectedAfterPublishing(t *testing.T) {
	s := newTestService(t)
	res, err := s.SubmitProofJob(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusProving, "", ""); err != nil {
		t.Fatalf("QUEUED -> PROVING: %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusProved, "", ""); err != nil {
		t.Fatalf("PROVING -> PROVED: %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), res.JobID, StatusPublishing, "", ""); err != nil {
		t.Fatalf("PROVED -> PUBLISHING: %v", err)
	}

	_, err = s.RetryProofJob(context.Background(), res.JobID)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeRetryNotAllowed {
		t.Fatalf("expected RETRY_NOT_ALLOWED, got %v", err)
	}
}

func TestQueueStats_ReflectsQueueDepth(t *testing.T) {
	s := newTestService(t)
	if _, err := s.SubmitProofJob(context.Background(), baseRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stats, err := s.QueueStats(context.Background())
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Queue != 1 {
		t.Fatalf("expected queue depth 1, got %d", stats.Queue)
	}
}
