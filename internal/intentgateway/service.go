package intentgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/cryptoutil"
	"github.com/otcsettle/controlplane/internal/kvstore"
	"github.com/otcsettle/controlplane/internal/replay"
)

type Service struct {
	log  *zap.Logger
	repo Repository
	kv   *kvstore.Store

	replayTTL         time.Duration
	maxAge            time.Duration
	maxFutureSkew     time.Duration
	confidentialMode  bool
	decryptionKey     []byte
}

type Config struct {
	ReplayTTL            time.Duration
	MaxAge               time.Duration
	MaxFutureSkew        time.Duration
	ConfidentialRuntime  bool
	DecryptionKeyHex     string
}

func New(log *zap.Logger, repo Repository, kv *kvstore.Store, cfg Config) (*Service, error) {
	s := &Service{
		log:              log,
		repo:             repo,
		kv:               kv,
		replayTTL:        cfg.ReplayTTL,
		maxAge:           cfg.MaxAge,
		maxFutureSkew:    cfg.MaxFutureSkew,
		confidentialMode: cfg.ConfidentialRuntime,
	}
	if cfg.ConfidentialRuntime && cfg.DecryptionKeyHex != "" {
		key, err := cryptoutil.DecodeHexKey(cfg.DecryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("intent decryption key: %w", err)
		}
		s.decryptionKey = key
	}
	return s, nil
}

func nonceKey(nonce string) string   { return "replay:nonce:" + nonce }
func commitKey(hash string) string   { return "replay:hash:" + hash }

// SubmitIntent implements §4.2.
func (s *Service) SubmitIntent(ctx context.Context, req SubmitIntentRequest) (*SubmitIntentResult, error) {
	if req.EncryptedPayload == "" || req.Signature == "" || req.SignerPublicKey == "" || req.Nonce == "" {
		return nil, apperr.BadRequest("INVALID_INTENT_FIELDS", "all string fields must be non-empty")
	}
	if req.Timestamp <= 0 {
		return nil, apperr.BadRequest("INVALID_TIMESTAMP", "timestamp must be positive")
	}

	now := time.Now().Unix()
	if req.Timestamp < now-int64(s.maxAge.Seconds()) {
		return nil, apperr.BadRequest(apperr.CodeRequestExpired, "timestamp is older than the configured max age")
	}
	if req.Timestamp > now+int64(s.maxFutureSkew.Seconds()) {
		return nil, apperr.BadRequest(apperr.CodeTimestampFuture, "timestamp is further in the future than the configured skew")
	}

	message := []byte(fmt.Sprintf("%s:%s:%d", req.EncryptedPayload, req.Nonce, req.Timestamp))
	if err := cryptoutil.VerifyEd25519(message, req.Signature, req.SignerPublicKey); err != nil {
		return nil, apperr.Unauthorized(apperr.CodeBadSignature, "signature verification failed")
	}

	if s.confidentialMode && s.decryptionKey != nil {
		if plain, err := cryptoutil.DecryptRandomNonceEnvelope(req.EncryptedPayload, s.decryptionKey); err != nil {
			s.log.Warn("intent decryption failed; proceeding on ciphertext only", zap.Error(err))
		} else {
			_ = plain // best-effort preview only; never affects commitment/hash
		}
	}

	commitmentHash := computeCommitment(req.EncryptedPayload, req.Nonce, req.Timestamp, req.SignerPublicKey)

	if err := replay.Reserve(ctx, s.kv, nonceKey(req.Nonce), commitKey(commitmentHash), s.replayTTL,
		apperr.CodeReplayNonce, apperr.CodeReplayHash); err != nil {
		return nil, err
	}

	workflowRunID := req.WorkflowRunID
	if workflowRunID == "" {
		workflowRunID = "wrun_" + uuid.NewString()
	}
	intentID := "intent_" + uuid.NewString()

	intent := &Intent{
		IntentID:         intentID,
		WorkflowRunID:    workflowRunID,
		EncryptedPayload: req.EncryptedPayload,
		CommitmentHash:   commitmentHash,
		SignerPublicKey:  req.SignerPublicKey,
		Nonce:            req.Nonce,
		Timestamp:        req.Timestamp,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, intent); err != nil {
		return nil, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}

	return &SubmitIntentResult{
		WorkflowRunID:    workflowRunID,
		IntentIDs:        []string{intentID},
		CommitmentHashes: []string{commitmentHash},
		Accepted:         true,
	}, nil
}

func (s *Service) GetIntent(ctx context.Context, intentID string) (*Intent, bool, error) {
	in, found, err := s.repo.GetByID(ctx, intentID)
	if err != nil {
		return nil, false, apperr.Internal(apperr.CodePersistenceError, err.Error())
	}
	return in, found, nil
}

// computeCommitment implements §3's EncryptedIntent.commitment_hash: a
// literal "|" byte separator between payload, nonce, timestamp, and
// signer_pubkey, with no trailing separator.
func computeCommitment(payload, nonce string, timestamp int64, pubKey string) string {
	raw := payload + "|" + nonce + "|" + fmt.Sprintf("%d", timestamp) + "|" + pubKey
	return cryptoutil.SHA256Hex([]byte(raw))
}
