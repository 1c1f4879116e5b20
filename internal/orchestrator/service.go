package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/complianceattestor"
	"github.com/otcsettle/controlplane/internal/intentgateway"
	"github.com/otcsettle/controlplane/internal/policysnapshot"
	"github.com/otcsettle/controlplane/internal/proofcoordinator"
)

// Service composes the four component services in-process, exactly as a
// single control-plane binary wires them: no network hop between the
// orchestrator and its siblings, just direct calls through their public
// Service methods.
type Service struct {
	log         *zap.Logger
	intents     *intentgateway.Service
	policy      *policysnapshot.Service
	compliance  *complianceattestor.Service
	proofs      *proofcoordinator.Service

	domainSeparator string
}

func New(log *zap.Logger, intents *intentgateway.Service, policy *policysnapshot.Service, compliance *complianceattestor.Service, proofs *proofcoordinator.Service, domainSeparator string) *Service {
	return &Service{
		log:             log,
		intents:         intents,
		policy:          policy,
		compliance:      compliance,
		proofs:          proofs,
		domainSeparator: domainSeparator,
	}
}

// OrchestrateOTC implements §4.5: mint a workflow_run_id, submit both intent
// legs under it, read the active policy, screen compliance, and — on a PASS
// decision — submit a settlement proof job bound to the attestation hash.
func (s *Service) OrchestrateOTC(ctx context.Context, req OrchestrateRequest) (*OrchestrateResult, error) {
	workflowRunID := "run_" + randomHex(16)

	intentIDs := make([]string, 0, len(req.Intents))
	for _, leg := range req.Intents {
		res, err := s.intents.SubmitIntent(ctx, intentgateway.SubmitIntentRequest{
			EncryptedPayload: leg.EncryptedPayload,
			Signature:        leg.Signature,
			SignerPublicKey:  leg.SignerPublicKey,
			Nonce:            leg.Nonce,
			Timestamp:        leg.Timestamp,
			WorkflowRunID:    workflowRunID,
		})
		if err != nil {
			return nil, err
		}
		if !res.Accepted {
			return &OrchestrateResult{WorkflowRunID: workflowRunID, IntentIDs: intentIDs, Accepted: false, RejectionReason: "intent not accepted"}, nil
		}
		intentIDs = append(intentIDs, res.IntentIDs...)
	}

	active, found, err := s.policy.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.Conflict("NO_ACTIVE_POLICY", "no policy is currently active")
	}

	attestation, _, err := s.compliance.AttestCompliance(ctx, complianceattestor.AttestRequest{
		WorkflowRunID: workflowRunID,
		RequestID:     req.ComplianceRequestID,
		Nonce:         req.ComplianceNonce,
		Timestamp:     req.ComplianceTimestamp,
		Subjects:      req.Subjects,
	})
	if err != nil {
		return nil, err
	}

	if attestation.Decision != complianceattestor.DecisionPass {
		return &OrchestrateResult{
			WorkflowRunID:   workflowRunID,
			IntentIDs:       intentIDs,
			Accepted:        false,
			Decision:        attestation.Decision,
			AttestationID:   attestation.AttestationID,
			RejectionReason: "compliance decision did not pass",
		}, nil
	}

	proofType := req.ProofType
	if proofType == "" {
		proofType = proofcoordinator.ProofTypeSettlement
	}
	receiptContext := map[string]any{
		"receiptHash": attestation.AttestationHash,
		"binding": map[string]any{
			"workflowRunId":   workflowRunID,
			"policyVersion":   active.PolicyVersion,
			"receiptHash":     attestation.AttestationHash,
			"domainSeparator": s.domainSeparator,
		},
	}
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = attestation.AttestationID
	}
	jobRes, err := s.proofs.SubmitProofJob(ctx, proofcoordinator.SubmitProofJobRequest{
		WorkflowRunID:  workflowRunID,
		PolicyVersion:  active.PolicyVersion,
		ProofType:      proofType,
		ReceiptContext: receiptContext,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return nil, err
	}

	return &OrchestrateResult{
		WorkflowRunID:  workflowRunID,
		IntentIDs:      intentIDs,
		Accepted:       true,
		Decision:       attestation.Decision,
		AttestationID:  attestation.AttestationID,
		ProofJobID:     jobRes.JobID,
		ProofJobStatus: jobRes.Status,
	}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
