package cryptoutil

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
)

func TestSHA256Hex_IsDeterministicAndLowercase(t *testing.T) {
	a := SHA256Hex([]byte("otc-settlement"))
	b := SHA256Hex([]byte("otc-settlement"))
	if a != b {
		t.Fatalf("expected deterministic digest, got %s vs %s", a, b)
	}
	for _, c := range a {
		if c >= 'A' && c <= 'Z' {
			t.Fatalf("expected lowercase hex, got %s", a)
		}
	}
}

func TestVerifyHMACSHA256Hex_RoundTrips(t *testing.T) {
	secret := []byte("shared-secret")
	data := []byte("payload")
	mac := HMACSHA256Hex(secret, data)
	if !VerifyHMACSHA256Hex(secret, data, mac) {
		t.Fatalf("expected a freshly computed HMAC to verify")
	}
	if VerifyHMACSHA256Hex(secret, []byte("tampered"), mac) {
		t.Fatalf("expected verification to fail against a different payload")
	}
}

func TestVerifyEd25519_AcceptsValidAndRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	message := []byte("payload:nonce:1700000000")
	sig := ed25519.Sign(priv, message)

	if err := VerifyEd25519(message, hex.EncodeToString(sig), hex.EncodeToString(pub)); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}

	tampered := append([]byte{}, sig...)
	tampered[0] ^= 0xff
	if err := VerifyEd25519(message, hex.EncodeToString(tampered), hex.EncodeToString(pub)); err == nil {
		t.Fatalf("expected tampered signature to fail verification")
	}
}

func TestVerifyEd25519_RejectsMalformedKeyLength(t *testing.T) {
	if err := VerifyEd25519([]byte("m"), hex.EncodeToString(make([]byte, 64)), hex.EncodeToString(make([]byte, 16))); err == nil {
		t.Fatalf("expected a short public key to be rejected")
	}
}

func TestFixedNonceEnvelope_RoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte(`{"provider_ref":"abc123"}`)
	envelope, err := EncryptFixedNonceEnvelope(plaintext, key, FixedNonce12(0x07))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptFixedNonceEnvelope(envelope, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected round-trip plaintext %q, got %q", plaintext, got)
	}
}

func TestDecryptFixedNonceEnvelope_RejectsMissingPrefix(t *testing.T) {
	key := make([]byte, 32)
	if _, err := DecryptFixedNonceEnvelope("not-an-envelope", key); err == nil {
		t.Fatalf("expected missing enc:v1: prefix to be rejected")
	}
}

func TestRandomNonceEnvelope_RoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(31 - i)
	}
	plaintext := []byte(`{"leg":"buy","notional":"1000"}`)
	envelope, err := EncryptRandomNonceEnvelope(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptRandomNonceEnvelope(envelope, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected round-trip plaintext %q, got %q", plaintext, got)
	}
}

func TestDecryptRandomNonceEnvelope_RejectsWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 0x01
	envelope, err := EncryptRandomNonceEnvelope([]byte("secret"), key1)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptRandomNonceEnvelope(envelope, key2); err == nil {
		t.Fatalf("expected decryption under the wrong key to fail")
	}
}

func TestDecodeHexKey_RejectsWrongLength(t *testing.T) {
	if _, err := DecodeHexKey(hex.EncodeToString(make([]byte, 16))); err == nil {
		t.Fatalf("expected a 16-byte key to be rejected as not AES-256 length")
	}
	if _, err := DecodeHexKey(hex.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("expected a 32-byte key to be accepted, got %v", err)
	}
}
