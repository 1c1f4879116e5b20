package intentgateway

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/kvstore/kvtest"
)

func newTestService(t *testing.T) (*Service, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_ = pub
	kv := kvtest.NewStore(t)
	s, err := New(zap.NewNop(), NewMemRepository(), kv, Config{
		ReplayTTL:     time.Hour,
		MaxAge:        time.Hour,
		MaxFutureSkew: time.Minute,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s, priv
}

func signedRequest(priv ed25519.PrivateKey, payload, nonce string, ts int64) SubmitIntentRequest {
	pub := priv.Public().(ed25519.PublicKey)
	message := fmt.Sprintf("%s:%s:%d", payload, nonce, ts)
	sig := ed25519.Sign(priv, []byte(message))
	return SubmitIntentRequest{
		EncryptedPayload: payload,
		Signature:        hex.EncodeToString(sig),
		SignerPublicKey:  hex.EncodeToString(pub),
		Nonce:            nonce,
		Timestamp:        ts,
	}
}

func TestSubmitIntent_AcceptsValidSignature(t *testing.T) {
	s, priv := newTestService(t)
	req := signedRequest(priv, "ciphertext-payload", "nonce-1", time.Now().Unix())

	res, err := s.SubmitIntent(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Accepted || len(res.IntentIDs) != 1 {
		t.Fatalf("expected accepted with one intent id, got %+v", res)
	}
}

func TestSubmitIntent_RejectsBadSignature(t *testing.T) {
	s, priv := newTestService(t)
	req := signedRequest(priv, "ciphertext-payload", "nonce-2", time.Now().Unix())
	req.Signature = hex.EncodeToString(make([]byte, 64))

	_, err := s.SubmitIntent(context.Background(), req)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeBadSignature {
		t.Fatalf("expected BAD_SIGNATURE, got %v", err)
	}
}

func TestSubmitIntent_ReplayNonceRejected(t *testing.T) {
	s, priv := newTestService(t)
	req := signedRequest(priv, "ciphertext-payload", "nonce-3", time.Now().Unix())

	if _, err := s.SubmitIntent(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	req2 := signedRequest(priv, "different-payload", "nonce-3", time.Now().Unix())
	_, err := s.SubmitIntent(context.Background(), req2)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeReplayNonce {
		t.Fatalf("expected REPLAY_NONCE, got %v", err)
	}
}

func TestSubmitIntent_ReplayCommitmentHashRejected(t *testing.T) {
	s, priv := newTestService(t)
	ts := time.Now().Unix()
	req := signedRequest(priv, "ciphertext-payload", "nonce-4", ts)

	if _, err := s.SubmitIntent(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// A strictly identical resubmission hits the nonce check first.
	_, err := s.SubmitIntent(context.Background(), req)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeReplayNonce {
		t.Fatalf("expected REPLAY_NONCE on exact resubmission, got %v", err)
	}

	// With the nonce reservation gone, the same (payload,nonce,timestamp,
	// pubkey) still yields the same commitment_hash, which is still reserved.
	if err := s.kv.Del(context.Background(), nonceKey("nonce-4")); err != nil {
		t.Fatalf("clearing nonce key: %v", err)
	}
	_, err = s.SubmitIntent(context.Background(), req)
	appErr, ok = err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeReplayHash {
		t.Fatalf("expected REPLAY_HASH once the nonce key is cleared, got %v", err)
	}
}

func TestSubmitIntent_RejectsStaleTimestamp(t *testing.T) {
	s, priv := newTestService(t)
	req := signedRequest(priv, "ciphertext-payload", "nonce-5", time.Now().Add(-2*time.Hour).Unix())

	_, err := s.SubmitIntent(context.Background(), req)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeRequestExpired {
		t.Fatalf("expected REQUEST_EXPIRED, got %v", err)
	}
}

func TestSubmitIntent_RejectsFutureTimestamp(t *testing.T) {
	s, priv := newTestService(t)
	req := signedRequest(priv, "ciphertext-payload", "nonce-6", time.Now().Add(time.Hour).Unix())

	_, err := s.SubmitIntent(context.Background(), req)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeTimestampFuture {
		t.Fatalf("expected TIMESTAMP_IN_FUTURE, got %v", err)
	}
}

func TestComputeCommitment_MatchesLiteralSeparatorFormat(t *testing.T) {
	got := computeCommitment("payload", "nonce", 1700000000, "pubkey")
	want := computeCommitment("payload", "nonce", 1700000000, "pubkey")
	if got != want {
		t.Fatalf("commitment hash not deterministic")
	}
	if computeCommitment("payload", "nonceX", 1700000000, "pubkey") == got {
		t.Fatalf("commitment hash must vary with nonce")
	}
	sum := sha256.Sum256([]byte("payload|nonce|1700000000|pubkey"))
	if literal := hex.EncodeToString(sum[:]); got != literal {
		t.Fatalf("commitment hash %s, want SHA-256 of the |-joined fields %s", got, literal)
	}
}
