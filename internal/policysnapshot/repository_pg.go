package policysnapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otcsettle/controlplane/internal/docstore"
)

// pgRepository persists PolicySnapshot collections as JSONB documents in
// Postgres, following the teacher's direct-SQL style (no ORM) and the
// document-store adaptation explained in DESIGN.md.
type pgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(store *docstore.Store) Repository {
	return &pgRepository{pool: store.Pool}
}

func (r *pgRepository) GetByVersion(ctx context.Context, version string) (*Snapshot, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM policy_snapshots WHERE policy_version=$1`, version).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (r *pgRepository) GetByHash(ctx context.Context, hash string) (*Snapshot, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM policy_snapshots WHERE policy_hash=$1`, hash).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (r *pgRepository) Create(ctx context.Context, s *Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO policy_snapshots(policy_version, policy_hash, doc) VALUES ($1,$2,$3)`,
		s.PolicyVersion, s.PolicyHash, raw)
	return err
}

func (r *pgRepository) ActiveMapping(ctx context.Context) (*ActiveMapping, bool, error) {
	return r.queryOneMapping(ctx, `SELECT onchain_policy_version,policy_version,policy_hash,activated_at,deactivated_at
		FROM policy_activation_history WHERE deactivated_at IS NULL ORDER BY activated_at DESC LIMIT 1`)
}

func (r *pgRepository) ActiveMappingAt(ctx context.Context, t time.Time) (*ActiveMapping, bool, error) {
	return r.queryOneMapping(ctx, `SELECT onchain_policy_version,policy_version,policy_hash,activated_at,deactivated_at
		FROM policy_activation_history
		WHERE activated_at <= $1 AND (deactivated_at IS NULL OR deactivated_at > $1)
		ORDER BY activated_at DESC LIMIT 1`, t)
}

func (r *pgRepository) queryOneMapping(ctx context.Context, query string, args ...any) (*ActiveMapping, bool, error) {
	var m ActiveMapping
	err := r.pool.QueryRow(ctx, query, args...).Scan(&m.OnchainPolicyVersion, &m.PolicyVersion, &m.PolicyHash, &m.ActivatedAt, &m.DeactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

func (r *pgRepository) DeactivateCurrent(ctx context.Context, deactivatedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE policy_activation_history SET deactivated_at=$1 WHERE deactivated_at IS NULL`, deactivatedAt)
	return err
}

func (r *pgRepository) InsertActivation(ctx context.Context, m *ActiveMapping) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO policy_activation_history(onchain_policy_version,policy_version,policy_hash,activated_at,deactivated_at)
		VALUES ($1,$2,$3,$4,$5)`, m.OnchainPolicyVersion, m.PolicyVersion, m.PolicyHash, m.ActivatedAt, m.DeactivatedAt)
	return err
}

func (r *pgRepository) GetRunEvidence(ctx context.Context, runID string) (*RunEvidence, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM policy_run_evidence WHERE run_id=$1`, runID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e RunEvidence
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (r *pgRepository) InsertRunEvidenceIfAbsent(ctx context.Context, e *RunEvidence) (*RunEvidence, bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, false, err
	}
	tag, err := r.pool.Exec(ctx, `INSERT INTO policy_run_evidence(run_id, doc) VALUES ($1,$2) ON CONFLICT (run_id) DO NOTHING`, e.RunID, raw)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		// We won the race (or there was no race): our own record is now the
		// stored one.
		return e, false, nil
	}
	existing, found, err := r.GetRunEvidence(ctx, e.RunID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, errors.New("run evidence vanished after insert")
	}
	return existing, true, nil
}

func (r *pgRepository) InsertAudit(ctx context.Context, e AuditEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO policy_audit_log(doc) VALUES ($1)`, raw)
	return err
}
