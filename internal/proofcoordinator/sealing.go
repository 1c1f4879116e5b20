package proofcoordinator

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/otcsettle/controlplane/internal/vaultsecrets"
)

// ArtifactSealer seals ProverArtifacts at rest behind a Kyber768 KEM anchor
// key (§4.4 Expansion, "confidential artifact sealing"), grounded on the
// teacher's wrapper.go anchor-wrap scheme — Kyber768 encapsulation feeding
// an HKDF-SHA256-derived ChaCha20-Poly1305 key — repurposed here from
// wrapped-asset secrets to prover artifacts. This is defense-in-depth: the
// sealed envelope is stored alongside the plaintext ProverArtifacts that
// binding verification and publishing already operate on, not in place of
// it.
type ArtifactSealer struct {
	scheme kem.Scheme
	pub    kem.PublicKey
	priv   kem.PrivateKey
}

// NewArtifactSealer loads the anchor keypair from vaultAnchorKeyPath,
// generating and persisting one on first use.
func NewArtifactSealer(vault *vaultsecrets.Store, vaultAnchorKeyPath string) (*ArtifactSealer, error) {
	scheme := kyber768.Scheme()

	rec, err := vault.GetJSON(vaultAnchorKeyPath)
	if err != nil {
		return nil, fmt.Errorf("artifact sealer: vault read: %w", err)
	}
	if rec != nil {
		pub, priv, err := decodeAnchorKeypair(scheme, rec)
		if err != nil {
			return nil, fmt.Errorf("artifact sealer: decode anchor key: %w", err)
		}
		return &ArtifactSealer{scheme: scheme, pub: pub, priv: priv}, nil
	}

	pub, priv, err := kyber768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("artifact sealer: generate keypair: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := vault.PutJSON(vaultAnchorKeyPath, map[string]any{
		"kem":         "Kyber768",
		"public_b64":  base64.RawStdEncoding.EncodeToString(pubBytes),
		"private_b64": base64.RawStdEncoding.EncodeToString(privBytes),
	}); err != nil {
		return nil, fmt.Errorf("artifact sealer: vault write: %w", err)
	}
	return &ArtifactSealer{scheme: scheme, pub: pub, priv: priv}, nil
}

func decodeAnchorKeypair(scheme kem.Scheme, rec map[string]any) (kem.PublicKey, kem.PrivateKey, error) {
	pubB64, _ := rec["public_b64"].(string)
	privB64, _ := rec["private_b64"].(string)
	pubBytes, err := base64.RawStdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, nil, err
	}
	privBytes, err := base64.RawStdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, nil, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		return nil, nil, err
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Seal encapsulates a fresh shared secret against the anchor public key and
// uses it to seal a JSON encoding of artifacts, scoped to jobID via both the
// HKDF salt and the AEAD's associated data. Returns a base64-encoded JSON
// envelope suitable for storage in ProofJob.SealedArtifact.
func (s *ArtifactSealer) Seal(jobID string, artifacts *ProverArtifacts) (string, error) {
	ct, ss, err := s.scheme.Encapsulate(s.pub)
	if err != nil {
		return "", err
	}
	aead, err := sealAEAD(ss, jobID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(artifacts)
	if err != nil {
		return "", err
	}
	aad := []byte("proof:" + jobID)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	envelope := map[string]any{
		"kem":                "Kyber768",
		"kdf":                "HKDF-SHA256",
		"aead":               "ChaCha20-Poly1305",
		"kem_ciphertext_b64": base64.RawStdEncoding.EncodeToString(ct),
		"nonce_b64":          base64.RawStdEncoding.EncodeToString(nonce),
		"aad_b64":            base64.RawStdEncoding.EncodeToString(aad),
		"ciphertext_b64":     base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// Unseal reverses Seal. jobID must match the value Seal was called with.
func (s *ArtifactSealer) Unseal(jobID, envelopeB64 string) (*ProverArtifacts, error) {
	raw, err := base64.RawStdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		KemCiphertextB64 string `json:"kem_ciphertext_b64"`
		NonceB64         string `json:"nonce_b64"`
		AADB64           string `json:"aad_b64"`
		CiphertextB64    string `json:"ciphertext_b64"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	ct, err := base64.RawStdEncoding.DecodeString(envelope.KemCiphertextB64)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.RawStdEncoding.DecodeString(envelope.NonceB64)
	if err != nil {
		return nil, err
	}
	aad, err := base64.RawStdEncoding.DecodeString(envelope.AADB64)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(envelope.CiphertextB64)
	if err != nil {
		return nil, err
	}

	ss, err := s.scheme.Decapsulate(s.priv, ct)
	if err != nil {
		return nil, fmt.Errorf("kem decapsulation failed: %w", err)
	}
	aead, err := sealAEAD(ss, jobID)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("artifact unseal failed: %w", err)
	}
	var artifacts ProverArtifacts
	if err := json.Unmarshal(plaintext, &artifacts); err != nil {
		return nil, err
	}
	return &artifacts, nil
}

func sealAEAD(sharedSecret []byte, jobID string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("proof-seal:" + jobID))
	h := hkdf.New(sha256.New, sharedSecret, salt[:], []byte("proof-artifact-aead-key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
