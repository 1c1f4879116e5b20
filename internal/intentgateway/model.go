// Package intentgateway implements §4.2: encrypted trade-intent intake with
// Ed25519 signature verification, optional AES-256-GCM decryption, and
// atomic nonce/commitment replay defense.
package intentgateway

import "time"

// Intent is the EncryptedIntent entity of §3.
type Intent struct {
	IntentID          string    `json:"intent_id"`
	WorkflowRunID     string    `json:"workflow_run_id"`
	EncryptedPayload  string    `json:"encrypted_payload"`
	CommitmentHash    string    `json:"commitment_hash"`
	SignerPublicKey   string    `json:"signer_public_key"`
	Nonce             string    `json:"nonce"`
	Timestamp         int64     `json:"timestamp"`
	DecryptedPreview  string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// SubmitIntentRequest is §4.2's SubmitIntent input.
type SubmitIntentRequest struct {
	EncryptedPayload string `json:"encrypted_payload"`
	Signature        string `json:"signature"`
	SignerPublicKey  string `json:"signer_public_key"`
	Nonce            string `json:"nonce"`
	Timestamp        int64  `json:"timestamp"`
	// WorkflowRunID may be injected by a trusted upstream header; left empty
	// lets SubmitIntent mint a fresh one.
	WorkflowRunID string `json:"-"`
}

// SubmitIntentResult is §4.2's SubmitIntent output.
type SubmitIntentResult struct {
	WorkflowRunID    string   `json:"workflow_run_id"`
	IntentIDs        []string `json:"intent_ids"`
	CommitmentHashes []string `json:"commitment_hashes"`
	Accepted         bool     `json:"accepted"`
}
