package proofcoordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otcsettle/controlplane/internal/docstore"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(store *docstore.Store) Repository {
	return &pgRepository{pool: store.Pool}
}

func (r *pgRepository) Create(ctx context.Context, j *ProofJob) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO proof_jobs(job_id, workflow_run_id, idempotency_key, doc, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, j.JobID, j.WorkflowRunID, j.IdempotencyKey, raw, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *pgRepository) GetByID(ctx context.Context, jobID string) (*ProofJob, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM proof_jobs WHERE job_id=$1`, jobID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var j ProofJob
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, false, err
	}
	return &j, true, nil
}

func (r *pgRepository) GetByRun(ctx context.Context, workflowRunID string) ([]*ProofJob, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM proof_jobs WHERE workflow_run_id=$1 ORDER BY created_at`, workflowRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ProofJob
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var j ProofJob
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (r *pgRepository) Update(ctx context.Context, j *ProofJob) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE proof_jobs SET doc=$1, updated_at=$2 WHERE job_id=$3`, raw, j.UpdatedAt, j.JobID)
	return err
}

func (r *pgRepository) GetByIdempotencyKey(ctx context.Context, key string) (*ProofJob, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM proof_jobs WHERE idempotency_key=$1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var j ProofJob
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, false, err
	}
	return &j, true, nil
}
