// Package orchestrator implements §4.5's OtcOrchestrator: the two-intent OTC
// workflow composing IntentGateway, PolicySnapshot, ComplianceAttestor and
// ProofCoordinator in-process.
package orchestrator

import (
	"github.com/otcsettle/controlplane/internal/complianceattestor"
	"github.com/otcsettle/controlplane/internal/intentgateway"
	"github.com/otcsettle/controlplane/internal/proofcoordinator"
)

// IntentSubmission is one leg of the two-intent workflow: the wire shape
// IntentGateway.SubmitIntent already accepts, minus the workflow_run_id the
// orchestrator injects itself.
type IntentSubmission struct {
	EncryptedPayload string `json:"encrypted_payload"`
	Signature        string `json:"signature"`
	SignerPublicKey  string `json:"signer_public_key"`
	Nonce            string `json:"nonce"`
	Timestamp        int64  `json:"timestamp"`
}

// OrchestrateRequest is the OtcOrchestrator entry point's input: two intent
// legs plus the compliance-screening subjects for the same run.
type OrchestrateRequest struct {
	Intents           [2]IntentSubmission              `json:"intents"`
	ComplianceRequestID string                          `json:"compliance_request_id"`
	ComplianceNonce     string                          `json:"compliance_nonce"`
	ComplianceTimestamp int64                            `json:"compliance_timestamp"`
	Subjects            []complianceattestor.SubjectInput `json:"subjects"`
	ProofType           proofcoordinator.ProofType        `json:"proof_type,omitempty"`
	IdempotencyKey      string                             `json:"idempotency_key,omitempty"`
}

// OrchestrateResult is the orchestrated outcome: either a rejection carrying
// the compliance decision, or an accepted workflow with its minted proof job.
type OrchestrateResult struct {
	WorkflowRunID string   `json:"workflow_run_id"`
	IntentIDs     []string `json:"intent_ids"`

	Accepted bool `json:"accepted"`

	Decision          complianceattestor.Decision `json:"decision"`
	AttestationID     string                       `json:"attestation_id,omitempty"`
	RejectionReason   string                       `json:"rejection_reason,omitempty"`

	ProofJobID string                  `json:"proof_job_id,omitempty"`
	ProofJobStatus proofcoordinator.Status `json:"proof_job_status,omitempty"`
}
