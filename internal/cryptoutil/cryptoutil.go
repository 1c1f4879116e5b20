// Package cryptoutil holds the named primitives §1 allows: SHA-256,
// HMAC-SHA-256, AES-256-GCM, and Ed25519. Nothing here invents new
// cryptography; it only wires the standard library (and, for the fixed vs.
// random nonce envelope formats, a small amount of framing logic) the way
// the reference implementation does.
package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA-256 of data under secret.
func HMACSHA256Hex(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256Hex does a constant-time comparison of expectedHex against
// the computed HMAC-SHA-256 of data under secret.
func VerifyHMACSHA256Hex(secret, data []byte, expectedHex string) bool {
	computed := HMACSHA256Hex(secret, data)
	return hmac.Equal([]byte(computed), []byte(expectedHex))
}

// VerifyEd25519 verifies an Ed25519 signature over message using a
// hex-encoded 32-byte public key and hex-encoded 64-byte signature, matching
// §4.2's "verify an Ed25519 signature over \"{payload}:{nonce}:{timestamp}\"".
func VerifyEd25519(message []byte, signatureHex, pubKeyHex string) error {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid signer_public_key hex: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return errors.New("signer_public_key must be 32 bytes")
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return errors.New("signature must be 64 bytes")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), message, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

const (
	gcmNonceLen = 12
	gcmKeyLen   = 32
)

// FixedNonce12 repeats b across the 12-byte AES-GCM nonce. §4.3 step 11 uses
// a literal 0x07 for provider-reference encryption; see SPEC_FULL.md §9 for
// why this fixed-nonce format is kept rather than silently "fixed".
func FixedNonce12(b byte) [gcmNonceLen]byte {
	var n [gcmNonceLen]byte
	for i := range n {
		n[i] = b
	}
	return n
}

// EncryptFixedNonceEnvelope implements the "enc:v1:" + base64(nonce||ciphertext)
// format described in §4.3 step 11, using the supplied fixed nonce.
func EncryptFixedNonceEnvelope(plaintext, key []byte, nonce [gcmNonceLen]byte) (string, error) {
	if len(key) != gcmKeyLen {
		return "", errors.New("key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce[:], plaintext, nil)
	out := append(append([]byte{}, nonce[:]...), ciphertext...)
	return "enc:v1:" + base64.StdEncoding.EncodeToString(out), nil
}

// DecryptFixedNonceEnvelope reverses EncryptFixedNonceEnvelope.
func DecryptFixedNonceEnvelope(envelope string, key []byte) ([]byte, error) {
	const prefix = "enc:v1:"
	if !bytes.HasPrefix([]byte(envelope), []byte(prefix)) {
		return nil, errors.New("envelope missing enc:v1: prefix")
	}
	raw, err := base64.StdEncoding.DecodeString(envelope[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid envelope base64: %w", err)
	}
	if len(raw) <= gcmNonceLen {
		return nil, errors.New("envelope too short")
	}
	nonce, ciphertext := raw[:gcmNonceLen], raw[gcmNonceLen:]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// DecryptRandomNonceEnvelope implements §4.2's intent-decryption format: the
// first 12 bytes of the base64-decoded payload are the nonce, the remainder
// is ciphertext, with a fresh random nonce chosen per message by the sender
// (§9's "safer design" — used for intent decryption, distinct from the fixed
// provider-reference envelope above).
func DecryptRandomNonceEnvelope(payloadB64 string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted_payload base64: %w", err)
	}
	if len(raw) <= gcmNonceLen {
		return nil, errors.New("encrypted_payload is too short")
	}
	nonce, ciphertext := raw[:gcmNonceLen], raw[gcmNonceLen:]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decrypt failed")
	}
	return plain, nil
}

// EncryptRandomNonceEnvelope is the inverse of DecryptRandomNonceEnvelope,
// used by tests and by any caller that needs to produce a well-formed
// encrypted_payload.
func EncryptRandomNonceEnvelope(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	var nonce [gcmNonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce[:], plaintext, nil)
	out := append(append([]byte{}, nonce[:]...), ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecodeHexKey decodes a hex-encoded AES-256 key, validating its length.
func DecodeHexKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid key hex: %w", err)
	}
	if len(key) != gcmKeyLen {
		return nil, errors.New("key must decode to 32 bytes")
	}
	return key, nil
}
