package complianceattestor

import (
	"context"
	"sync"
)

type memRepository struct {
	mu           sync.Mutex
	requests     map[string]*RequestRecord
	attestations map[string]*Attestation          // by attestation_id
	byRequest    map[string]*Attestation          // by request_id
	refs         map[string]*ProviderReference
	audit        []AuditEvent
}

func NewMemRepository() Repository {
	return &memRepository{
		requests:     make(map[string]*RequestRecord),
		attestations: make(map[string]*Attestation),
		byRequest:    make(map[string]*Attestation),
		refs:         make(map[string]*ProviderReference),
	}
}

func (m *memRepository) GetRequestByID(_ context.Context, requestID string) (*RequestRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	return r, ok, nil
}

func (m *memRepository) CreateRequest(_ context.Context, r *RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.RequestID] = &cp
	return nil
}

func (m *memRepository) GetAttestationByID(_ context.Context, attestationID string) (*Attestation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attestations[attestationID]
	return a, ok, nil
}

func (m *memRepository) GetAttestationByRequestID(_ context.Context, requestID string) (*Attestation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byRequest[requestID]
	return a, ok, nil
}

func (m *memRepository) CreateAttestation(_ context.Context, a *Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attestations[a.AttestationID] = &cp
	m.byRequest[a.RequestID] = &cp
	return nil
}

func (m *memRepository) PutProviderReference(_ context.Context, ref *ProviderReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ref
	m.refs[ref.RequestID] = &cp
	return nil
}

func (m *memRepository) InsertAudit(_ context.Context, e AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}
