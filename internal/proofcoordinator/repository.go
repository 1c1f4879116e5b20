package proofcoordinator

import "context"

// Repository persists ProofJob records. The (workflow_run_id, proof_type)
// and receipt_hash reservations live in the KV store, not here.
// idempotency_key is not reserved in the KV store: SubmitProofJob resolves it
// through GetByIdempotencyKey, a lookup that is not atomic with the KV
// reservations or with Create.
type Repository interface {
	Create(ctx context.Context, j *ProofJob) error
	GetByID(ctx context.Context, jobID string) (*ProofJob, bool, error)
	GetByRun(ctx context.Context, workflowRunID string) ([]*ProofJob, error)
	Update(ctx context.Context, j *ProofJob) error
	GetByIdempotencyKey(ctx context.Context, key string) (*ProofJob, bool, error)
}
