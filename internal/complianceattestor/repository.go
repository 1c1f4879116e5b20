package complianceattestor

import "context"

// Repository persists ComplianceAttestor's four collections: requests
// (idempotency anchor), attestations, provider-reference envelopes, and
// audit events.
type Repository interface {
	GetRequestByID(ctx context.Context, requestID string) (*RequestRecord, bool, error)
	CreateRequest(ctx context.Context, r *RequestRecord) error

	GetAttestationByID(ctx context.Context, attestationID string) (*Attestation, bool, error)
	GetAttestationByRequestID(ctx context.Context, requestID string) (*Attestation, bool, error)
	CreateAttestation(ctx context.Context, a *Attestation) error

	PutProviderReference(ctx context.Context, ref *ProviderReference) error

	InsertAudit(ctx context.Context, e AuditEvent) error
}
