package complianceattestor

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

func (r *pgRepository) GetRequestByID(ctx context.Context, requestID string) (*RequestRecord, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM compliance_requests WHERE request_id=$1`, requestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec RequestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (r *pgRepository) CreateRequest(ctx context.Context, rec *RequestRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO compliance_requests(request_id, request_hash, doc) VALUES ($1,$2,$3)`,
		rec.RequestID, rec.RequestHash, raw)
	return err
}

func (r *pgRepository) GetAttestationByID(ctx context.Context, attestationID string) (*Attestation, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM compliance_attestations WHERE attestation_id=$1`, attestationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a Attestation
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func (r *pgRepository) GetAttestationByRequestID(ctx context.Context, requestID string) (*Attestation, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM compliance_attestations WHERE request_id=$1`, requestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a Attestation
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func (r *pgRepository) CreateAttestation(ctx context.Context, a *Attestation) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO compliance_attestations(attestation_id, request_id, doc) VALUES ($1,$2,$3)`,
		a.AttestationID, a.RequestID, raw)
	return err
}

func (r *pgRepository) PutProviderReference(ctx context.Context, ref *ProviderReference) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO provider_response_references(request_id, doc) VALUES ($1,$2)
		ON CONFLICT (request_id) DO UPDATE SET doc=EXCLUDED.doc`, ref.RequestID, raw)
	return err
}

func (r *pgRepository) InsertAudit(ctx context.Context, e AuditEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_events(doc) VALUES ($1)`, raw)
	return err
}
