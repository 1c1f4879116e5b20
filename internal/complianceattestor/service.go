package complianceattestor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/canonicaljson"
	"github.com/otcsettle/controlplane/internal/cryptoutil"
	"github.com/otcsettle/controlplane/internal/kvstore"
	"github.com/otcsettle/controlplane/internal/replay"
)

type Config struct {
	MaxAge             time.Duration
	MaxFutureSkew      time.Duration
	AttestationTTL     time.Duration
	ReplayTTL          time.Duration
	PolicySnapshotPath string
	SanctionsDataPath  string
	RequireSignature   bool
	SigningSecretHex   string
	EncryptionKeyHex   string
	FXLookupEnabled    bool
	FXQuoteBaseURL     string
	FXBaseCurrency     string
	FXQuoteCurrency    string
}

type Service struct {
	log       *zap.Logger
	repo      Repository
	kv        *kvstore.Store
	screening *screeningCache
	sanctions *sanctionsList

	cfg           Config
	signingSecret []byte
	encryptionKey []byte
}

func New(log *zap.Logger, repo Repository, kv *kvstore.Store, cfg Config) (*Service, error) {
	s := &Service{
		log:       log,
		repo:      repo,
		kv:        kv,
		screening: &screeningCache{kv: kv},
		sanctions: newSanctionsList(cfg.SanctionsDataPath),
		cfg:       cfg,
	}
	if cfg.SigningSecretHex != "" {
		key, err := cryptoutil.DecodeHexKey(cfg.SigningSecretHex)
		if err != nil {
			return nil, fmt.Errorf("compliance signing secret: %w", err)
		}
		s.signingSecret = key
	}
	if cfg.EncryptionKeyHex != "" {
		key, err := cryptoutil.DecodeHexKey(cfg.EncryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("compliance encryption key: %w", err)
		}
		s.encryptionKey = key
	}
	return s, nil
}

func (s *Service) loadPolicySnapshotFile() (*PolicySnapshotFile, error) {
	raw, err := os.ReadFile(s.cfg.PolicySnapshotPath)
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodePolicyServiceUnavailable, err.Error())
	}
	var f PolicySnapshotFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	return &f, nil
}

// AttestCompliance implements §4.3's pipeline.
func (s *Service) AttestCompliance(ctx context.Context, req AttestRequest) (*Attestation, bool, error) {
	if req.WorkflowRunID == "" || req.RequestID == "" || req.Nonce == "" {
		return nil, false, apperr.BadRequest("INVALID_ATTEST_FIELDS", "workflow_run_id, request_id and nonce are required")
	}
	if req.Timestamp <= 0 {
		return nil, false, apperr.BadRequest("INVALID_TIMESTAMP", "timestamp must be positive")
	}
	now := time.Now().Unix()
	if req.Timestamp < now-int64(s.cfg.MaxAge.Seconds()) {
		return nil, false, apperr.BadRequest(apperr.CodeRequestExpired, "timestamp is older than the configured max age")
	}
	if req.Timestamp > now+int64(s.cfg.MaxFutureSkew.Seconds()) {
		return nil, false, apperr.BadRequest(apperr.CodeTimestampFuture, "timestamp is further in the future than the configured skew")
	}
	if s.cfg.AttestationTTL <= 0 {
		return nil, false, apperr.Internal("INVALID_TTL_CONFIG", "attestation TTL must be positive")
	}

	payload := signingPayload{
		WorkflowRunID: req.WorkflowRunID,
		RequestID:     req.RequestID,
		Nonce:         req.Nonce,
		Timestamp:     req.Timestamp,
		Subjects:      req.Subjects,
	}
	canonical, err := canonicaljson.Natural(payload)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}

	if s.cfg.RequireSignature || req.OptionalSignature != "" {
		if req.OptionalSignature == "" {
			return nil, false, apperr.Unauthorized(apperr.CodeMissingSignature, "signature is required")
		}
		if len(s.signingSecret) == 0 || !cryptoutil.VerifyHMACSHA256Hex(s.signingSecret, canonical, req.OptionalSignature) {
			return nil, false, apperr.Unauthorized(apperr.CodeBadSignature, "signature verification failed")
		}
	}

	requestHash := cryptoutil.SHA256Hex(canonical)

	normalized, err := normalizeSubjects(req.Subjects)
	if err != nil {
		return nil, false, err
	}

	snapshotFile, err := s.loadPolicySnapshotFile()
	if err != nil {
		return nil, false, err
	}

	if existing, found, err := s.repo.GetRequestByID(ctx, req.RequestID); err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	} else if found {
		if existing.RequestHash != requestHash {
			return nil, false, apperr.Conflict(apperr.CodeIdempotencyConflict, "request_id already used with a different request_hash")
		}
		attn, found, err := s.repo.GetAttestationByID(ctx, existing.AttestationID)
		if err != nil {
			return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
		}
		if found {
			s.writeAudit(ctx, "IDEMPOTENT_REPLAY", req.RequestID, "returned cached attestation")
			return attn, true, nil
		}
	}

	if err := replay.Reserve(ctx, s.kv, "replay:nonce:"+req.Nonce, "replay:reqhash:"+requestHash, s.cfg.ReplayTTL,
		apperr.CodeReplayNonce, apperr.CodeReplayRequestHash); err != nil {
		return nil, false, err
	}

	cacheKey := screenCacheKey(normalized, snapshotFile.Active.Hash)
	screening, hit := s.screening.get(ctx, cacheKey)
	if !hit {
		screening, err = s.sanctions.screen(normalized)
		if err != nil {
			return nil, false, apperr.Internal(apperr.CodeSerializationError, err.Error())
		}
		s.screening.put(ctx, cacheKey, screening)
	}

	maxConf := 0
	for _, h := range screening.Hits {
		if h.Confidence > maxConf {
			maxConf = h.Confidence
		}
	}
	decision, riskScore := decide(maxConf, snapshotFile)

	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.cfg.AttestationTTL)
	subjectsDigest, err := subjectsDigest(normalized)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}

	hashPayload := attestationHashPayload{
		WorkflowRunID:     req.WorkflowRunID,
		RequestID:         req.RequestID,
		PolicyVersion:     snapshotFile.Active.Version,
		PolicyHash:        snapshotFile.Active.Hash,
		Decision:          decision,
		RiskScore:         riskScore,
		IssuedAt:          issuedAt.Format(time.RFC3339Nano),
		ExpiresAt:         expiresAt.Format(time.RFC3339Nano),
		SanctionsHitCount: len(screening.Hits),
		SubjectsDigest:    subjectsDigest,
		MatchDigest:       screening.MatchDigest,
	}
	hashRaw, err := canonicaljson.Natural(hashPayload)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	attestationHash := cryptoutil.SHA256Hex(hashRaw)
	attestationID := "attn_" + attestationHash[:24]

	// The FX lookup runs before persistence so a successful quote is part
	// of the durably stored attestation, not just the in-memory response;
	// it is never included in hashPayload/attestationHash above, matching
	// the reference's "never affects decision/risk_score/hash" contract.
	var fxQuote *FxQuote
	if s.cfg.FXLookupEnabled {
		q, err := fetchFXQuote(ctx, s.cfg.FXQuoteBaseURL, s.cfg.FXBaseCurrency, s.cfg.FXQuoteCurrency)
		if err != nil {
			s.log.Warn("fx quote lookup failed, continuing without it", zap.Error(err))
		} else {
			fxQuote = q
		}
	}

	attestation := &Attestation{
		AttestationID:      attestationID,
		RequestID:          req.RequestID,
		WorkflowRunID:      req.WorkflowRunID,
		PolicyVersion:      snapshotFile.Active.Version,
		PolicyHash:         snapshotFile.Active.Hash,
		Decision:           decision,
		RiskScore:          riskScore,
		AttestationHash:    attestationHash,
		IssuedAt:           issuedAt,
		ExpiresAt:          expiresAt,
		SanctionsHitCount:  len(screening.Hits),
		NormalizedSubjects: normalized,
		FxQuote:            fxQuote,
	}

	if err := s.repo.CreateRequest(ctx, &RequestRecord{RequestID: req.RequestID, RequestHash: requestHash, AttestationID: attestationID, CreatedAt: issuedAt}); err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	if err := s.repo.CreateAttestation(ctx, attestation); err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}

	if s.encryptionKey != nil {
		providerRef := providerReferencePayload{SanctionsHits: screening.Hits, FxQuote: fxQuote}
		providerRefRaw, err := json.Marshal(providerRef)
		if err != nil {
			s.log.Warn("provider reference serialization failed", zap.Error(err))
		} else {
			envelope, err := cryptoutil.EncryptFixedNonceEnvelope(providerRefRaw, s.encryptionKey, cryptoutil.FixedNonce12(0x07))
			if err != nil {
				s.log.Warn("provider reference encryption failed", zap.Error(err))
			} else if err := s.repo.PutProviderReference(ctx, &ProviderReference{RequestID: req.RequestID, EncryptedValue: envelope}); err != nil {
				s.log.Warn("provider reference persistence failed", zap.Error(err))
			}
		}
	}

	s.writeAudit(ctx, "ATTESTATION_ISSUED", req.RequestID, string(decision))
	return attestation, false, nil
}

func (s *Service) GetAttestation(ctx context.Context, attestationID string) (*Attestation, bool, error) {
	a, found, err := s.repo.GetAttestationByID(ctx, attestationID)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return a, found, nil
}

func decide(maxConf int, f *PolicySnapshotFile) (Decision, int) {
	if maxConf >= f.Thresholds.FailConfidence {
		return DecisionFail, f.Thresholds.FailRiskScore
	}
	if maxConf >= f.Thresholds.ReviewConfidence {
		return DecisionReview, f.Thresholds.ReviewRiskScore
	}
	return DecisionPass, f.Thresholds.PassRiskScore
}

func normalizeSubjects(inputs []SubjectInput) ([]NormalizedSubject, error) {
	out := make([]NormalizedSubject, 0, len(inputs))
	for i, in := range inputs {
		hasCounterparty := in.Counterparty != nil
		hasEntity := in.Entity != nil
		if hasCounterparty == hasEntity {
			return nil, apperr.BadRequest("INVALID_SUBJECT_VARIANT", fmt.Sprintf("subject %d must set exactly one of counterparty or entity", i))
		}
		if hasCounterparty {
			c := in.Counterparty
			out = append(out, NormalizedSubject{
				SubjectID:   c.ID,
				SubjectType: "counterparty",
				Address:     c.WalletAddress,
				Country:     c.Country,
			})
		} else {
			e := in.Entity
			out = append(out, NormalizedSubject{
				SubjectID:   e.ID,
				SubjectType: "entity",
				LegalName:   e.LegalName,
				Country:     e.RegistrationCountry,
			})
		}
	}
	return out, nil
}

// subjectsDigest implements §4.3 step 10's subjects_digest: sha256 of the
// canonical JSON of the subjects sorted by (subject_id, subject_type).
func subjectsDigest(subjects []NormalizedSubject) (string, error) {
	sorted := append([]NormalizedSubject{}, subjects...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SubjectID != sorted[j].SubjectID {
			return sorted[i].SubjectID < sorted[j].SubjectID
		}
		return sorted[i].SubjectType < sorted[j].SubjectType
	})
	raw, err := canonicaljson.Natural(sorted)
	if err != nil {
		return "", err
	}
	return cryptoutil.SHA256Hex(raw), nil
}

func (s *Service) writeAudit(ctx context.Context, eventType, requestID, details string) {
	if err := s.repo.InsertAudit(ctx, AuditEvent{EventType: eventType, RequestID: requestID, Details: details, Timestamp: time.Now().UTC()}); err != nil {
		s.log.Warn("compliance audit write failed", zap.Error(err), zap.String("event_type", eventType))
	}
}
