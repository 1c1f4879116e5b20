package policysnapshot

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/canonicaljson"
	"github.com/otcsettle/controlplane/internal/cryptoutil"
	"github.com/otcsettle/controlplane/internal/kvstore"
)

type Service struct {
	log   *zap.Logger
	repo  Repository
	cache cache

	internalAuthEnabled bool
	auditSecret         []byte
}

func New(log *zap.Logger, repo Repository, kv *kvstore.Store, internalAuthEnabled bool, auditSecret string) *Service {
	return &Service{
		log:                 log,
		repo:                repo,
		cache:               cache{kv: kv},
		internalAuthEnabled: internalAuthEnabled,
		auditSecret:         []byte(auditSecret),
	}
}

// CreateSnapshotResult is the §4.1 CreateSnapshot return shape.
type CreateSnapshotResult struct {
	PolicyHash         string `json:"policy_hash"`
	CanonicalRulesJSON string `json:"canonical_rules_json"`
	Idempotent         bool   `json:"idempotent"`
}

func (s *Service) CreateSnapshot(ctx context.Context, version string, rules RuleBundle, optionalHash string, metadata map[string]any) (*CreateSnapshotResult, error) {
	if version == "" {
		return nil, apperr.BadRequest("INVALID_POLICY_VERSION", "policy_version is required")
	}
	if verr := validateRuleBundle(rules); verr != nil {
		return nil, verr
	}

	canonicalBytes, err := canonicaljson.Sorted(rules)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	digest := cryptoutil.SHA256(canonicalBytes)
	policyHash := hex.EncodeToString(digest[:])

	if optionalHash != "" && optionalHash != policyHash {
		return nil, apperr.BadRequest(apperr.CodePolicyHashMismatch, "supplied policy_hash does not match the computed canonical hash")
	}

	existingByVersion, found, err := s.repo.GetByVersion(ctx, version)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if found {
		if existingByVersion.PolicyHash == policyHash && existingByVersion.CanonicalRulesJSON == string(canonicalBytes) {
			return &CreateSnapshotResult{PolicyHash: policyHash, CanonicalRulesJSON: string(canonicalBytes), Idempotent: true}, nil
		}
		return nil, apperr.Conflict("IMMUTABLE_VERSION_CONFLICT", "policy_version already exists with a different payload")
	}

	existingByHash, found, err := s.repo.GetByHash(ctx, policyHash)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if found && existingByHash.PolicyVersion != version {
		return nil, apperr.Conflict("IMMUTABLE_HASH_CONFLICT", "policy_hash is already bound to another version")
	}

	snap := &Snapshot{
		PolicyVersion:      version,
		PolicyHash:         policyHash,
		CanonicalRules:     rules,
		CanonicalRulesJSON: string(canonicalBytes),
		Metadata:           metadata,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, snap); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	s.cache.warmSnapshot(ctx, snap)
	s.writeAudit(ctx, "CREATE_SNAPSHOT", version)

	return &CreateSnapshotResult{PolicyHash: policyHash, CanonicalRulesJSON: string(canonicalBytes), Idempotent: false}, nil
}

func (s *Service) ActivatePolicy(ctx context.Context, onchainVersion, policyVersion string) (*ActiveMapping, error) {
	snap, found, err := s.GetSnapshotByVersion(ctx, policyVersion)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("POLICY_SNAPSHOT_NOT_FOUND", "referenced snapshot does not exist")
	}

	now := time.Now().UTC()
	if err := s.repo.DeactivateCurrent(ctx, now); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	mapping := &ActiveMapping{
		OnchainPolicyVersion: onchainVersion,
		PolicyVersion:        snap.PolicyVersion,
		PolicyHash:           snap.PolicyHash,
		ActivatedAt:          now,
	}
	if err := s.repo.InsertActivation(ctx, mapping); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	s.cache.invalidateActive(ctx)
	s.cache.warmActive(ctx, mapping)
	s.writeAudit(ctx, "ACTIVATE_POLICY", policyVersion)
	return mapping, nil
}

func (s *Service) GetSnapshotByVersion(ctx context.Context, version string) (*Snapshot, bool, error) {
	if cached, ok, _ := s.cache.getByVersion(ctx, version); ok {
		return cached, true, nil
	}
	snap, found, err := s.repo.GetByVersion(ctx, version)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if found {
		s.cache.warmSnapshot(ctx, snap)
	}
	return snap, found, nil
}

func (s *Service) GetSnapshotByHash(ctx context.Context, hash string) (*Snapshot, bool, error) {
	if version, ok, _ := s.cache.getByHash(ctx, hash); ok {
		return s.GetSnapshotByVersion(ctx, version)
	}
	snap, found, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if found {
		s.cache.warmSnapshot(ctx, snap)
	}
	return snap, found, nil
}

func (s *Service) GetActive(ctx context.Context) (*ActiveMapping, bool, error) {
	if cached, ok, _ := s.cache.getActive(ctx); ok {
		return cached, true, nil
	}
	mapping, found, err := s.repo.ActiveMapping(ctx)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if found {
		s.cache.warmActive(ctx, mapping)
	}
	return mapping, found, nil
}

func (s *Service) GetActiveAt(ctx context.Context, t time.Time) (*ActiveMapping, bool, error) {
	mapping, found, err := s.repo.ActiveMappingAt(ctx, t)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return mapping, found, nil
}

// GetEffectivePolicyForRun implements §4.1's operation of the same name,
// including the run-evidence conflict and first-writer-wins semantics.
func (s *Service) GetEffectivePolicyForRun(ctx context.Context, runID string, runTimestamp int64, versionHint *string) (*RunEvidence, error) {
	if existing, found, err := s.repo.GetRunEvidence(ctx, runID); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	} else if found {
		if existing.RunTimestamp == runTimestamp && hintsEqual(existing.VersionHint, versionHint) {
			return existing, nil
		}
		return nil, apperr.Conflict(apperr.CodeRunEvidenceConflict, "run evidence already recorded with different (run_timestamp, version_hint)")
	}

	t := time.Unix(runTimestamp, 0).UTC()
	var mapping *ActiveMapping
	if versionHint != nil && *versionHint != "" {
		m, found, err := s.repo.ActiveMappingAt(ctx, t)
		if err != nil {
			return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
		}
		if !found || m.PolicyVersion != *versionHint {
			return nil, apperr.Conflict("POLICY_VERSION_NOT_ACTIVE_AT_TIMESTAMP", "version_hint is not the active mapping at run_timestamp")
		}
		mapping = m
	} else {
		m, found, err := s.repo.ActiveMappingAt(ctx, t)
		if err != nil {
			return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
		}
		if !found {
			return nil, apperr.Conflict("ACTIVE_POLICY_NOT_FOUND_AT_TIMESTAMP", "no active policy covers run_timestamp")
		}
		mapping = m
	}

	evidence := &RunEvidence{
		RunID:         runID,
		RunTimestamp:  runTimestamp,
		VersionHint:   versionHint,
		PolicyVersion: mapping.PolicyVersion,
		PolicyHash:    mapping.PolicyHash,
		ActivatedAt:   mapping.ActivatedAt,
		DeactivatedAt: mapping.DeactivatedAt,
	}
	payload := evidenceHashPayload{
		RunID: evidence.RunID, RunTimestamp: evidence.RunTimestamp, VersionHint: evidence.VersionHint,
		PolicyVersion: evidence.PolicyVersion, PolicyHash: evidence.PolicyHash,
		ActivatedAt: evidence.ActivatedAt, DeactivatedAt: evidence.DeactivatedAt,
	}
	raw, err := canonicaljson.Natural(payload)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	evidence.EvidenceHash = cryptoutil.SHA256Hex(raw)
	if len(s.auditSecret) > 0 {
		sig := cryptoutil.HMACSHA256Hex(s.auditSecret, raw)
		evidence.EvidenceSignature = &sig
	}

	stored, raced, err := s.repo.InsertRunEvidenceIfAbsent(ctx, evidence)
	if err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if raced && stored.EvidenceHash != evidence.EvidenceHash {
		// A concurrent writer won with a different resolution; still must
		// agree with us per §4.1's "must still yield the same hash" clause.
		return nil, apperr.Conflict(apperr.CodeRunEvidenceConflict, "concurrent run evidence write disagreed")
	}
	s.writeAudit(ctx, "RUN_EVIDENCE_WRITTEN", runID)
	return stored, nil
}

func hintsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// VerifyInternalAuth checks the x-internal-signature header (§4.1's
// "Internal auth" paragraph) when enabled.
func (s *Service) VerifyInternalAuth(bodyCanonical []byte, signatureHex string) error {
	if !s.internalAuthEnabled {
		return nil
	}
	if len(s.auditSecret) == 0 {
		return apperr.Internal("SIGNING_CONFIG_MISSING", "internal auth enabled but no secret configured")
	}
	if signatureHex == "" {
		return apperr.Unauthorized(apperr.CodeMissingSignature, "x-internal-signature is required")
	}
	if !cryptoutil.VerifyHMACSHA256Hex(s.auditSecret, bodyCanonical, signatureHex) {
		return apperr.Unauthorized(apperr.CodeBadSignature, "internal signature verification failed")
	}
	return nil
}

func (s *Service) writeAudit(ctx context.Context, eventType, details string) {
	if err := s.repo.InsertAudit(ctx, AuditEvent{EventType: eventType, Details: details, Timestamp: time.Now().UTC()}); err != nil {
		s.log.Warn("policy audit write failed", zap.Error(err), zap.String("event_type", eventType))
	}
}
