package policysnapshot

import (
	"context"
	"time"
)

// Repository is persistence for PolicySnapshot: the canonical source of
// truth per §3's ownership rule. Two implementations exist: pgRepository
// (JSONB-backed, see DESIGN.md "document store") for production, and
// memRepository for tests and for running without Postgres configured.
type Repository interface {
	GetByVersion(ctx context.Context, version string) (*Snapshot, bool, error)
	GetByHash(ctx context.Context, hash string) (*Snapshot, bool, error)
	Create(ctx context.Context, s *Snapshot) error

	ActiveMapping(ctx context.Context) (*ActiveMapping, bool, error)
	ActiveMappingAt(ctx context.Context, t time.Time) (*ActiveMapping, bool, error)
	DeactivateCurrent(ctx context.Context, deactivatedAt time.Time) error
	InsertActivation(ctx context.Context, m *ActiveMapping) error

	GetRunEvidence(ctx context.Context, runID string) (*RunEvidence, bool, error)
	// InsertRunEvidenceIfAbsent is first-writer-wins: if a row for RunID
	// already exists it is left untouched and found=true is returned along
	// with the existing record.
	InsertRunEvidenceIfAbsent(ctx context.Context, e *RunEvidence) (existing *RunEvidence, found bool, err error)

	InsertAudit(ctx context.Context, e AuditEvent) error
}
