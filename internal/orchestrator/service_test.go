package orchestrator

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/complianceattestor"
	"github.com/otcsettle/controlplane/internal/intentgateway"
	"github.com/otcsettle/controlplane/internal/kvstore/kvtest"
	"github.com/otcsettle/controlplane/internal/policysnapshot"
	"github.com/otcsettle/controlplane/internal/proofcoordinator"
)

type testRig struct {
	svc  *Service
	priv ed25519.PrivateKey
}

func newTestRig(t *testing.T) testRig {
	t.Helper()
	kv := kvtest.NewStore(t)
	log := zap.NewNop()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_ = pub

	intentSvc, err := intentgateway.New(log, intentgateway.NewMemRepository(), kv, intentgateway.Config{
		ReplayTTL: time.Hour, MaxAge: time.Hour, MaxFutureSkew: time.Minute,
	})
	if err != nil {
		t.Fatalf("intent gateway: %v", err)
	}

	policySvc := policysnapshot.New(log, policysnapshot.NewMemRepository(), kv, false, "")
	bundle := policysnapshot.RuleBundle{Countries: []string{"US", "DE"}}
	bundle.Limits.MinNotional = 100
	bundle.Limits.MaxNotional = 1_000_000
	bundle.Thresholds.ReviewConfidence = 60
	bundle.Thresholds.FailConfidence = 90
	if _, err := policySvc.CreateSnapshot(context.Background(), "policy-v1", bundle, "", nil); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if _, err := policySvc.ActivatePolicy(context.Background(), "onchain-1", "policy-v1"); err != nil {
		t.Fatalf("activate policy: %v", err)
	}

	policyPath, sanctionsPath := writeComplianceFixtures(t)
	complianceSvc, err := complianceattestor.New(log, complianceattestor.NewMemRepository(), kv, complianceattestor.Config{
		MaxAge: time.Hour, MaxFutureSkew: time.Minute, AttestationTTL: 24 * time.Hour, ReplayTTL: time.Hour,
		PolicySnapshotPath: policyPath, SanctionsDataPath: sanctionsPath,
	})
	if err != nil {
		t.Fatalf("compliance attestor: %v", err)
	}

	proofSvc := proofcoordinator.New(log, proofcoordinator.NewMemRepository(), kv, proofcoordinator.Config{
		ReplayTTL: time.Hour, PollInterval: time.Second, Lease: time.Minute, MaxRetries: 3,
		BackoffBase: time.Second, DomainSeparator: "otc-settlement-v1",
	})

	return testRig{
		svc:  New(log, intentSvc, policySvc, complianceSvc, proofSvc, "otc-settlement-v1"),
		priv: priv,
	}
}

func writeComplianceFixtures(t *testing.T) (policyPath, sanctionsPath string) {
	t.Helper()
	dir := t.TempDir()

	policy := complianceattestor.PolicySnapshotFile{}
	policy.Active.Version = "policy-v1"
	policy.Active.Hash = "deadbeefcafebabe"
	policy.Thresholds.ReviewConfidence = 60
	policy.Thresholds.FailConfidence = 90
	policy.Thresholds.PassRiskScore = 10
	policy.Thresholds.ReviewRiskScore = 50
	policy.Thresholds.FailRiskScore = 95
	raw, _ := json.Marshal(policy)
	policyPath = filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policyPath, raw, 0o600); err != nil {
		t.Fatalf("write policy fixture: %v", err)
	}

	sanctions := []complianceattestor.SanctionsEntry{
		{Source: "OFAC", Program: "SDN", Name: "Acme Sanctioned Corp"},
	}
	sraw, _ := json.Marshal(sanctions)
	sanctionsPath = filepath.Join(dir, "sanctions.json")
	if err := os.WriteFile(sanctionsPath, sraw, 0o600); err != nil {
		t.Fatalf("write sanctions fixture: %v", err)
	}
	return policyPath, sanctionsPath
}

func signedLeg(priv ed25519.PrivateKey, payload, nonce string, ts int64) IntentSubmission {
	pub := priv.Public().(ed25519.PublicKey)
	message := fmt.Sprintf("%s:%s:%d", payload, nonce, ts)
	sig := ed25519.Sign(priv, []byte(message))
	return IntentSubmission{
		EncryptedPayload: payload,
		Signature:        hex.EncodeToString(sig),
		SignerPublicKey:  hex.EncodeToString(pub),
		Nonce:            nonce,
		Timestamp:        ts,
	}
}

func TestOrchestrateOTC_AcceptsCleanWorkflowAndSubmitsProofJob(t *testing.T) {
	rig := newTestRig(t)
	ts := time.Now().Unix()

	req := OrchestrateRequest{
		Intents: [2]IntentSubmission{
			signedLeg(rig.priv, "buy-leg-ciphertext", "nonce-buy-1", ts),
			signedLeg(rig.priv, "sell-leg-ciphertext", "nonce-sell-1", ts),
		},
		ComplianceRequestID: "creq-1",
		ComplianceNonce:     "cnonce-1",
		ComplianceTimestamp: ts,
		Subjects: []complianceattestor.SubjectInput{
			{Counterparty: &complianceattestor.CounterpartySubject{ID: "clean-party", Country: "US"}},
		},
	}

	res, err := rig.svc.OrchestrateOTC(context.Background(), req)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted workflow, got %+v", res)
	}
	if res.Decision != complianceattestor.DecisionPass {
		t.Fatalf("expected PASS decision, got %s", res.Decision)
	}
	if len(res.IntentIDs) != 2 {
		t.Fatalf("expected two intent ids, got %d", len(res.IntentIDs))
	}
	if res.ProofJobID == "" || res.ProofJobStatus != proofcoordinator.StatusQueued {
		t.Fatalf("expected a queued proof job, got %+v", res)
	}

	job, found, err := rig.svc.proofs.GetProofJob(context.Background(), res.ProofJobID)
	if err != nil || !found {
		t.Fatalf("fetching minted proof job: found=%v err=%v", found, err)
	}
	binding, ok := job.ReceiptContext["binding"].(map[string]any)
	if !ok {
		t.Fatalf("expected a binding object in receipt_context, got %+v", job.ReceiptContext)
	}
	if binding["policyVersion"] != "policy-v1" {
		t.Fatalf("expected binding bound to the active policy version, got %+v", binding)
	}
}

func TestOrchestrateOTC_RejectsOnSanctionsMatch(t *testing.T) {
	rig := newTestRig(t)
	ts := time.Now().Unix()

	req := OrchestrateRequest{
		Intents: [2]IntentSubmission{
			signedLeg(rig.priv, "buy-leg-ciphertext", "nonce-buy-2", ts),
			signedLeg(rig.priv, "sell-leg-ciphertext", "nonce-sell-2", ts),
		},
		ComplianceRequestID: "creq-2",
		ComplianceNonce:     "cnonce-2",
		ComplianceTimestamp: ts,
		Subjects: []complianceattestor.SubjectInput{
			{Entity: &complianceattestor.EntitySubject{ID: "entity-1", LegalName: "Acme Sanctioned Corp"}},
		},
	}

	res, err := rig.svc.OrchestrateOTC(context.Background(), req)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if res.Accepted {
		t.Fatalf("expected rejection for a sanctioned subject, got %+v", res)
	}
	if res.Decision != complianceattestor.DecisionFail {
		t.Fatalf("expected FAIL decision, got %s", res.Decision)
	}
	if res.ProofJobID != "" {
		t.Fatalf("expected no proof job on rejection, got %s", res.ProofJobID)
	}
}
