package proofcoordinator

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
)

const (
	queueKey      = "proofjobs:queue"
	processingKey = "proofjobs:processing"
	retryKey      = "proofjobs:retry"
	deadKey       = "proofjobs:dead"
	attemptsKey   = "proofjobs:attempts"
	lockKeyPrefix = "proofjobs:lock:"
)

func lockKey(jobID string) string { return lockKeyPrefix + jobID }

// proverRunner and publisherClient narrow Prover and Publisher to what the
// worker loop needs, so tests can substitute doubles for the external
// prover binary and the chain RPC client.
type proverRunner interface {
	Run(ctx context.Context, job *ProofJob, extraFixture map[string]any) (*ProverArtifacts, error)
}

type publisherClient interface {
	Publish(ctx context.Context, artifacts *ProverArtifacts) (*OnchainPublish, error)
}

// Worker runs §4.4's durable queue loop: promote due retries, lease a job,
// run it through proving, binding verification and publishing, and handle
// failure by either dead-lettering it or scheduling exponential backoff.
type Worker struct {
	svc       *Service
	prover    proverRunner
	publisher publisherClient
	sealer    *ArtifactSealer
}

func NewWorker(svc *Service, prover proverRunner, publisher publisherClient) *Worker {
	return &Worker{svc: svc, prover: prover, publisher: publisher}
}

// WithArtifactSealer enables best-effort at-rest sealing of prover artifacts
// (§4.4 Expansion, "confidential artifact sealing"). A nil sealer (the
// zero value of Worker) leaves sealing disabled, matching
// Config.ArtifactSealingEnabled defaulting to false.
func (w *Worker) WithArtifactSealer(sealer *ArtifactSealer) *Worker {
	w.sealer = sealer
	return w
}

// Run polls until ctx is cancelled, processing one job lease per iteration.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.svc.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	kv := w.svc.kv
	if _, err := kv.PromoteDueRetries(ctx, retryKey, queueKey, time.Now().UTC(), 100); err != nil {
		w.svc.log.Warn("promoting due retries failed", zap.Error(err))
	}

	jobID, err := kv.BRPopLPush(ctx, queueKey, processingKey, w.svc.cfg.PollInterval)
	if err != nil {
		w.svc.log.Warn("dequeue failed", zap.Error(err))
		return
	}
	if jobID == "" {
		return
	}

	acquired, err := kv.AcquireLock(ctx, lockKey(jobID), w.svc.cfg.Lease)
	if err != nil {
		w.svc.log.Warn("lock acquisition failed", zap.Error(err), zap.String("job_id", jobID))
		return
	}
	if !acquired {
		if err := kv.LRem(ctx, processingKey, jobID, 1); err != nil {
			w.svc.log.Warn("releasing processing placeholder failed", zap.Error(err), zap.String("job_id", jobID))
		}
		return
	}
	defer func() {
		if err := kv.ReleaseLock(ctx, lockKey(jobID)); err != nil {
			w.svc.log.Warn("lock release failed", zap.Error(err), zap.String("job_id", jobID))
		}
	}()

	w.process(ctx, jobID)
}

func (w *Worker) process(ctx context.Context, jobID string) {
	kv := w.svc.kv
	job, found, err := w.svc.repo.GetByID(ctx, jobID)
	if err != nil || !found {
		w.svc.log.Error("leased job not found", zap.String("job_id", jobID), zap.Error(err))
		if err := kv.LRem(ctx, processingKey, jobID, 1); err != nil {
			w.svc.log.Warn("releasing processing placeholder failed", zap.Error(err))
		}
		return
	}

	if err := w.runJob(ctx, job); err != nil {
		w.handleFailure(ctx, job, err)
		return
	}

	if err := kv.LRem(ctx, processingKey, jobID, 1); err != nil {
		w.svc.log.Warn("clearing processing entry failed", zap.Error(err), zap.String("job_id", jobID))
	}
	if err := kv.HDel(ctx, attemptsKey, jobID); err != nil {
		w.svc.log.Warn("clearing attempts counter failed", zap.Error(err), zap.String("job_id", jobID))
	}
}

// runJob advances job through PROVING, the binding check, and PUBLISHING in
// one lease. Any returned error is classified by handleFailure. Every step
// that persists re-fetches job through UpdateStatus's return value rather
// than trusting the caller's copy to stay in sync with storage.
func (w *Worker) runJob(ctx context.Context, job *ProofJob) error {
	job, err := w.svc.UpdateStatus(ctx, job.JobID, StatusProving, "", "")
	if err != nil {
		return err
	}

	var extraFixture map[string]any
	if job.ProofType == ProofTypeSettlement {
		workflowRunID, policyVersion, receiptHash, domain := expectedBindingValues(job, w.svc.cfg.DomainSeparator)
		extraFixture = settlementFixtureProjections(workflowRunID, policyVersion, receiptHash, domain)
	}

	artifacts, err := w.prover.Run(ctx, job, extraFixture)
	if err != nil {
		return err
	}
	job.ProverArtifacts = artifacts
	if w.sealer != nil {
		sealed, sealErr := w.sealer.Seal(job.JobID, artifacts)
		if sealErr != nil {
			w.svc.log.Warn("artifact sealing failed, continuing unsealed", zap.Error(sealErr), zap.String("job_id", job.JobID))
		} else {
			job.SealedArtifact = sealed
		}
	}
	if err := w.svc.repo.Update(ctx, job); err != nil {
		return apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	job, err = w.svc.UpdateStatus(ctx, job.JobID, StatusProved, "", "")
	if err != nil {
		return err
	}

	if err := verifyBinding(job, artifacts.PublicSignals, w.svc.cfg.DomainSeparator); err != nil {
		return err
	}

	job, err = w.svc.UpdateStatus(ctx, job.JobID, StatusPublishing, "", "")
	if err != nil {
		return err
	}

	if w.publisher == nil {
		return apperr.NewNonRetryable("PUBLISHER_NOT_CONFIGURED", "no on-chain publisher is configured")
	}
	published, err := w.publisher.Publish(ctx, artifacts)
	if err != nil {
		return err
	}

	job.OnchainPublish = published
	if err := w.svc.repo.Update(ctx, job); err != nil {
		return apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if _, err := w.svc.UpdateStatus(ctx, job.JobID, StatusPublished, "", ""); err != nil {
		return err
	}
	return nil
}

// handleFailure implements §4.4's failure handling: NON_RETRYABLE markers go
// straight to dead; otherwise increment attempts and either dead-letter past
// max_retries or schedule exponential backoff. The lease is always released
// by the caller's defer.
func (w *Worker) handleFailure(ctx context.Context, job *ProofJob, cause error) {
	kv := w.svc.kv
	if code, msg, ok := apperr.AsNonRetryable(cause); ok {
		w.deadLetter(ctx, job, code, msg)
		return
	}

	attempts, err := kv.HIncrBy(ctx, attemptsKey, job.JobID, 1)
	if err != nil {
		w.svc.log.Error("incrementing attempts counter failed", zap.Error(err), zap.String("job_id", job.JobID))
		return
	}

	if int(attempts) > w.svc.cfg.MaxRetries {
		w.deadLetter(ctx, job, apperr.CodeWorkerRetryExhausted, "exceeded max_retries")
		return
	}

	backoff := time.Duration(float64(w.svc.cfg.BackoffBase) * math.Pow(2, float64(attempts-1)))
	scheduledAt := time.Now().UTC().Add(backoff)
	if err := kv.ZAdd(ctx, retryKey, float64(scheduledAt.Unix()), job.JobID); err != nil {
		w.svc.log.Error("scheduling retry failed", zap.Error(err), zap.String("job_id", job.JobID))
		return
	}
	if err := kv.LRem(ctx, processingKey, job.JobID, 1); err != nil {
		w.svc.log.Warn("clearing processing entry on retry failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
}

func (w *Worker) deadLetter(ctx context.Context, job *ProofJob, code, msg string) {
	kv := w.svc.kv
	if _, err := w.svc.UpdateStatus(ctx, job.JobID, StatusFailed, code, msg); err != nil {
		w.svc.log.Warn("recording terminal failure failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
	if err := kv.LRem(ctx, processingKey, job.JobID, 1); err != nil {
		w.svc.log.Warn("clearing processing entry on dead-letter failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
	if err := kv.LPush(ctx, deadKey, job.JobID); err != nil {
		w.svc.log.Error("dead-lettering job failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
	if err := kv.HDel(ctx, attemptsKey, job.JobID); err != nil {
		w.svc.log.Warn("clearing attempts counter on dead-letter failed", zap.Error(err), zap.String("job_id", job.JobID))
	}
}
