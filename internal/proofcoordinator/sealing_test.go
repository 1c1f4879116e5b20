package proofcoordinator

import (
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

func newTestSealer(t *testing.T) *ArtifactSealer {
	t.Helper()
	pub, priv, err := kyber768.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("generate anchor keypair: %v", err)
	}
	return &ArtifactSealer{scheme: kyber768.Scheme(), pub: pub, priv: priv}
}

func TestArtifactSealer_SealUnsealRoundTrips(t *testing.T) {
	s := newTestSealer(t)
	artifacts := &ProverArtifacts{
		PiA:             []string{"1", "2"},
		PiB:             [][]string{{"3", "4"}, {"5", "6"}},
		PiC:             []string{"7", "8"},
		PublicSignals:   []string{"run-1", "policy-v1", "deadbeef", "otc-settlement-v1"},
		ProveDurationMS: 42,
	}

	sealed, err := s.Seal("proof_abc", artifacts)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "" {
		t.Fatal("expected a non-empty sealed envelope")
	}

	got, err := s.Unseal("proof_abc", sealed)
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if got.PublicSignals[0] != "run-1" || got.PiA[0] != "1" || got.ProveDurationMS != 42 {
		t.Fatalf("expected round-tripped artifacts, got %+v", got)
	}
}

func TestArtifactSealer_UnsealFailsUnderWrongJobID(t *testing.T) {
	s := newTestSealer(t)
	artifacts := &ProverArtifacts{PublicSignals: []string{"a", "b", "c", "d"}}

	sealed, err := s.Seal("proof_abc", artifacts)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := s.Unseal("proof_xyz", sealed); err == nil {
		t.Fatal("expected unsealing under a different job_id (different HKDF salt/AAD) to fail")
	}
}

func TestArtifactSealer_UnsealFailsUnderWrongAnchorKey(t *testing.T) {
	s := newTestSealer(t)
	other := newTestSealer(t)
	artifacts := &ProverArtifacts{PublicSignals: []string{"a", "b", "c", "d"}}

	sealed, err := s.Seal("proof_abc", artifacts)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := other.Unseal("proof_abc", sealed); err == nil {
		t.Fatal("expected unsealing under a different anchor keypair to fail")
	}
}
