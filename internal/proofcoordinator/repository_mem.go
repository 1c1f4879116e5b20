package proofcoordinator

import (
	"context"
	"sync"
)

type memRepository struct {
	mu           sync.Mutex
	byID         map[string]*ProofJob
	byRun        map[string][]string
	byIdemKey    map[string]string // idempotency_key -> job_id
}

func NewMemRepository() Repository {
	return &memRepository{
		byID:      make(map[string]*ProofJob),
		byRun:     make(map[string][]string),
		byIdemKey: make(map[string]string),
	}
}

func (m *memRepository) Create(_ context.Context, j *ProofJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.byID[j.JobID] = &cp
	m.byRun[j.WorkflowRunID] = append(m.byRun[j.WorkflowRunID], j.JobID)
	m.byIdemKey[j.IdempotencyKey] = j.JobID
	return nil
}

func (m *memRepository) GetByID(_ context.Context, jobID string) (*ProofJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[jobID]
	return j, ok, nil
}

func (m *memRepository) GetByRun(_ context.Context, workflowRunID string) ([]*ProofJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byRun[workflowRunID]
	out := make([]*ProofJob, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *memRepository) Update(_ context.Context, j *ProofJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.byID[j.JobID] = &cp
	return nil
}

func (m *memRepository) GetByIdempotencyKey(_ context.Context, key string) (*ProofJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdemKey[key]
	if !ok {
		return nil, false, nil
	}
	j, ok := m.byID[id]
	return j, ok, nil
}
