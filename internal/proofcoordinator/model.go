// Package proofcoordinator implements §4.4: idempotent job submission, a
// durable Redis-backed queue with lease/retry/dead-letter handling, a strict
// status state machine, the public-signal binding check, and on-chain
// publication of settlement proofs.
package proofcoordinator

import "time"

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProving    Status = "PROVING"
	StatusProved     Status = "PROVED"
	StatusPublishing Status = "PUBLISHING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

type ProofType string

const (
	ProofTypeSettlement ProofType = "settlement"
	ProofTypeCompliance ProofType = "compliance"
	ProofTypeRebate     ProofType = "rebate"
)

// Transition is one recorded status change in a ProofJob's history.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
	ErrorCode string    `json:"error_code,omitempty"`
	ErrorMsg  string    `json:"error_message,omitempty"`
}

// ProverArtifacts is the result of a successful external prover run.
type ProverArtifacts struct {
	PiA            []string `json:"pi_a"`
	PiB            [][]string `json:"pi_b"`
	PiC            []string `json:"pi_c"`
	PublicSignals  []string `json:"public_signals"`
	ProveDurationMS int64   `json:"prove_duration_ms"`
}

// OnchainPublish is the result of a successful on-chain publish.
type OnchainPublish struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// ProofJob is §3's ProofJob entity.
type ProofJob struct {
	JobID          string          `json:"job_id"`
	WorkflowRunID  string          `json:"workflow_run_id"`
	PolicyVersion  string          `json:"policy_version"`
	ProofType      ProofType       `json:"proof_type"`
	ReceiptContext map[string]any  `json:"receipt_context"`
	IdempotencyKey string          `json:"idempotency_key"`
	RequestHash    string          `json:"request_hash"`
	Status         Status          `json:"status"`
	Transitions    []Transition    `json:"transitions"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastErrorCode  string          `json:"last_error_code,omitempty"`
	LastErrorMsg   string          `json:"last_error_message,omitempty"`
	ProverArtifacts *ProverArtifacts `json:"prover_artifacts,omitempty"`
	OnchainPublish  *OnchainPublish  `json:"onchain_publish,omitempty"`
	// SealedArtifact is a base64 Kyber768+HKDF-SHA256+ChaCha20-Poly1305
	// envelope of ProverArtifacts, set only when artifact sealing is
	// enabled (§4.4 Expansion). It is additional, defense-in-depth
	// storage; ProverArtifacts above remains the source of truth used by
	// binding verification and publishing.
	SealedArtifact string `json:"sealed_artifact,omitempty"`
}

// SubmitProofJobRequest is §4.4's SubmitProofJob input.
type SubmitProofJobRequest struct {
	WorkflowRunID  string         `json:"workflow_run_id"`
	PolicyVersion  string         `json:"policy_version"`
	ReceiptContext map[string]any `json:"receipt_context"`
	ProofType      ProofType      `json:"proof_type"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// requestHashPayload is the natural-order struct request_hash is derived
// from — the fields that define a unique submission.
type requestHashPayload struct {
	WorkflowRunID  string         `json:"workflow_run_id"`
	PolicyVersion  string         `json:"policy_version"`
	ReceiptContext map[string]any `json:"receipt_context"`
	ProofType      ProofType      `json:"proof_type"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type SubmitProofJobResult struct {
	JobID      string `json:"job_id"`
	Status     Status `json:"status"`
	Idempotent bool   `json:"idempotent"`
}

// QueueStats is §4.4.2's QueueStats projection.
type QueueStats struct {
	Queue      int64 `json:"queue"`
	Processing int64 `json:"processing"`
	Retry      int64 `json:"retry"`
	Dead       int64 `json:"dead"`
}

// Metrics is §4.4.2's Metrics projection.
type Metrics struct {
	Queued               int64     `json:"queued"`
	Published            int64     `json:"published"`
	Failed               int64     `json:"failed"`
	RetriesScheduled     int64     `json:"retries_scheduled"`
	AvgProveDurationMS   float64   `json:"avg_prove_duration_ms"`
	AvgQueueLatencyMS    float64   `json:"avg_queue_latency_ms"`
	LastErrorAt          time.Time `json:"last_error_ts,omitempty"`
}
