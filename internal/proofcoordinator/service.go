package proofcoordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/canonicaljson"
	"github.com/otcsettle/controlplane/internal/cryptoutil"
	"github.com/otcsettle/controlplane/internal/kvstore"
	"github.com/otcsettle/controlplane/internal/replay"
)

// Config carries the submission-time and worker-loop knobs of §4.4 and §6.
type Config struct {
	ReplayTTL       time.Duration
	PollInterval    time.Duration
	Lease           time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	DomainSeparator string
}

type Service struct {
	log  *zap.Logger
	repo Repository
	kv   *kvstore.Store
	cfg  Config
}

func New(log *zap.Logger, repo Repository, kv *kvstore.Store, cfg Config) *Service {
	return &Service{log: log, repo: repo, kv: kv, cfg: cfg}
}

// SubmitProofJob implements §4.4's SubmitProofJob: request-hash derivation,
// the (workflow_run_id, proof_type) and receipt_hash single-use reservations,
// idempotency-key replay, job minting, and initial enqueue.
func (s *Service) SubmitProofJob(ctx context.Context, req SubmitProofJobRequest) (*SubmitProofJobResult, error) {
	if req.WorkflowRunID == "" || req.PolicyVersion == "" || req.ProofType == "" {
		return nil, apperr.BadRequest("INVALID_PROOF_JOB_REQUEST", "workflow_run_id, policy_version and proof_type are required")
	}
	switch req.ProofType {
	case ProofTypeSettlement, ProofTypeCompliance, ProofTypeRebate:
	default:
		return nil, apperr.BadRequest("INVALID_PROOF_TYPE", "unrecognized proof_type")
	}

	payload := requestHashPayload{
		WorkflowRunID:  req.WorkflowRunID,
		PolicyVersion:  req.PolicyVersion,
		ReceiptContext: req.ReceiptContext,
		ProofType:      req.ProofType,
		IdempotencyKey: req.IdempotencyKey,
	}
	raw, err := canonicaljson.Natural(payload)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	requestHash := cryptoutil.SHA256Hex(raw)

	if req.IdempotencyKey != "" {
		existing, found, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
		}
		if found {
			if existing.RequestHash != requestHash {
				return nil, apperr.Conflict(apperr.CodeIdempotencyConflict, "idempotency_key already used with a different request")
			}
			return &SubmitProofJobResult{JobID: existing.JobID, Status: existing.Status, Idempotent: true}, nil
		}
	}

	runProofKey := fmt.Sprintf("replay:runproof:%s:%s", req.WorkflowRunID, req.ProofType)
	if receiptHash, ok := extractReceiptHash(req.ReceiptContext); ok {
		receiptHashKey := fmt.Sprintf("replay:receipthash:%s", receiptHash)
		if err := replay.Reserve(ctx, s.kv, runProofKey, receiptHashKey, 0, apperr.CodeReplayRunProofType, apperr.CodeReplayReceiptHash); err != nil {
			return nil, err
		}
	} else {
		if err := replay.ReserveOne(ctx, s.kv, runProofKey, 0, apperr.CodeReplayRunProofType); err != nil {
			return nil, err
		}
	}

	jobID := "proof_" + randomHex(16)
	now := time.Now().UTC()
	job := &ProofJob{
		JobID:          jobID,
		WorkflowRunID:  req.WorkflowRunID,
		PolicyVersion:  req.PolicyVersion,
		ProofType:      req.ProofType,
		ReceiptContext: req.ReceiptContext,
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    requestHash,
		Status:         StatusQueued,
		Transitions:    []Transition{{From: "", To: StatusQueued, At: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if err := s.kv.LPush(ctx, queueKey, jobID); err != nil {
		return nil, apperr.Unavailable(apperr.CodeQueueUnavailable, err.Error())
	}

	return &SubmitProofJobResult{JobID: jobID, Status: StatusQueued, Idempotent: false}, nil
}

// extractReceiptHash reads receipt_context.receiptHash, falling back to
// receipt_context.receipt_hash, trimmed and reported absent if blank. This
// is the value the receipt_hash single-use guarantee (§3/§4.4) reserves —
// not the request hash, which differs across jobs that legitimately share a
// receipt hash but differ in some other field.
func extractReceiptHash(receiptContext map[string]any) (string, bool) {
	v, ok := receiptContext["receiptHash"]
	if !ok {
		v, ok = receiptContext["receipt_hash"]
	}
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func (s *Service) GetProofJob(ctx context.Context, jobID string) (*ProofJob, bool, error) {
	job, found, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return job, found, nil
}

func (s *Service) GetProofJobsByRun(ctx context.Context, runID string) ([]*ProofJob, error) {
	jobs, err := s.repo.GetByRun(ctx, runID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return jobs, nil
}

// validTransitions extends the documented table with PROVED->FAILED: a
// binding mismatch (§4.4.1) is detected while the job sits in PROVED, and
// must still be able to reach the terminal FAILED/dead state rather than
// stall there.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued:     {StatusProving: true},
	StatusProving:    {StatusProved: true, StatusFailed: true},
	StatusProved:     {StatusPublishing: true, StatusFailed: true},
	StatusPublishing: {StatusPublished: true, StatusFailed: true},
}

// UpdateStatus implements the documented status machine, restricted to the
// transitions named in §3: QUEUED→PROVING, PROVING→{PROVED,FAILED},
// PROVED→PUBLISHING, PUBLISHING→{PUBLISHED,FAILED}, plus PROVED→FAILED
// (see validTransitions). FAILED requires a
// non-empty error code. Re-applying an identical transition is idempotent.
func (s *Service) UpdateStatus(ctx context.Context, jobID string, to Status, errorCode, errorMsg string) (*ProofJob, error) {
	job, found, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if !found {
		return nil, apperr.NotFound("PROOF_JOB_NOT_FOUND", "no proof job with that id")
	}

	if job.Status == to {
		if job.LastErrorCode == errorCode && job.LastErrorMsg == errorMsg {
			return job, nil
		}
		return nil, apperr.Conflict(apperr.CodeInvalidStateTransition, "status unchanged but error details differ")
	}
	if !validTransitions[job.Status][to] {
		return nil, apperr.BadRequest(apperr.CodeInvalidStateTransition, fmt.Sprintf("%s -> %s is not a permitted transition", job.Status, to))
	}
	if to == StatusFailed && errorCode == "" {
		return nil, apperr.BadRequest(apperr.CodeFailedRequiresErrorCode, "transitioning to FAILED requires a non-empty error code")
	}

	now := time.Now().UTC()
	job.Transitions = append(job.Transitions, Transition{From: job.Status, To: to, At: now, ErrorCode: errorCode, ErrorMsg: errorMsg})
	job.Status = to
	job.LastErrorCode = errorCode
	job.LastErrorMsg = errorMsg
	job.UpdatedAt = now

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return job, nil
}

// RetryProofJob re-enqueues a job, rejected once it has reached PUBLISHING or
// PUBLISHED.
func (s *Service) RetryProofJob(ctx context.Context, jobID string) (*ProofJob, error) {
	job, found, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if !found {
		return nil, apperr.NotFound("PROOF_JOB_NOT_FOUND", "no proof job with that id")
	}
	if job.Status == StatusPublishing || job.Status == StatusPublished {
		return nil, apperr.Conflict(apperr.CodeRetryNotAllowed, "job has already reached the publishing stage")
	}

	now := time.Now().UTC()
	job.Transitions = append(job.Transitions, Transition{From: job.Status, To: StatusQueued, At: now})
	job.Status = StatusQueued
	job.LastErrorCode = ""
	job.LastErrorMsg = ""
	job.UpdatedAt = now
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if err := s.kv.HDel(ctx, attemptsKey, job.JobID); err != nil {
		s.log.Warn("clearing attempts counter on retry failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
	if err := s.kv.LPush(ctx, queueKey, job.JobID); err != nil {
		return nil, apperr.Unavailable(apperr.CodeQueueUnavailable, err.Error())
	}
	return job, nil
}

func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	q, err := s.kv.LLen(ctx, queueKey)
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	p, err := s.kv.LLen(ctx, processingKey)
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	r, err := s.kv.ZCard(ctx, retryKey)
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	d, err := s.kv.LLen(ctx, deadKey)
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodeRedisError, err.Error())
	}
	return &QueueStats{Queue: q, Processing: p, Retry: r, Dead: d}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
