// Package complianceattestor implements §4.3: subject normalization,
// cached sanctions screening, policy-versioned decisioning, deterministic
// attestation hashing, and idempotent intake.
package complianceattestor

import "time"

type Decision string

const (
	DecisionPass   Decision = "PASS"
	DecisionReview Decision = "REVIEW"
	DecisionFail   Decision = "FAIL"
)

// SubjectInput is the wire shape of one subject in an AttestCompliance call:
// a tagged union carried as two optional pointer fields, exactly one set.
type SubjectInput struct {
	Counterparty *CounterpartySubject `json:"counterparty,omitempty"`
	Entity       *EntitySubject       `json:"entity,omitempty"`
}

type CounterpartySubject struct {
	ID            string `json:"id"`
	Country       string `json:"country,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type EntitySubject struct {
	ID                  string `json:"id"`
	RegistrationCountry string `json:"registration_country,omitempty"`
	LegalName           string `json:"legal_name,omitempty"`
}

// NormalizedSubject is §3's NormalizedSubject after normalization.
type NormalizedSubject struct {
	SubjectID   string `json:"subject_id"`
	SubjectType string `json:"subject_type"` // "counterparty" | "entity"
	LegalName   string `json:"legal_name,omitempty"`
	Address     string `json:"address,omitempty"`
	Country     string `json:"country,omitempty"`
}

// AttestRequest is §4.3's AttestCompliance input.
type AttestRequest struct {
	WorkflowRunID     string         `json:"workflow_run_id"`
	RequestID         string         `json:"request_id"`
	Nonce             string         `json:"nonce"`
	Timestamp         int64          `json:"timestamp"`
	Subjects          []SubjectInput `json:"subjects"`
	OptionalSignature string         `json:"signature,omitempty"`
}

// signingPayload carries the natural-order fields the optional HMAC
// signature and request_hash are both computed over (§4.3 steps 2-3).
type signingPayload struct {
	WorkflowRunID string         `json:"workflow_run_id"`
	RequestID     string         `json:"request_id"`
	Nonce         string         `json:"nonce"`
	Timestamp     int64          `json:"timestamp"`
	Subjects      []SubjectInput `json:"subjects"`
}

// Attestation is §3's ComplianceAttestation entity.
type Attestation struct {
	AttestationID      string              `json:"attestation_id"`
	RequestID          string              `json:"request_id"`
	WorkflowRunID      string              `json:"workflow_run_id"`
	PolicyVersion      string              `json:"policy_version"`
	PolicyHash         string              `json:"policy_hash"`
	Decision           Decision            `json:"decision"`
	RiskScore          int                 `json:"risk_score"`
	AttestationHash    string              `json:"attestation_hash"`
	IssuedAt           time.Time           `json:"issued_at"`
	ExpiresAt          time.Time           `json:"expires_at"`
	SanctionsHitCount  int                 `json:"sanctions_hit_count"`
	NormalizedSubjects []NormalizedSubject `json:"normalized_subjects"`
	// FxQuote is the optional best-effort enrichment from SPEC_FULL.md
	// §4.3 Expansion; never part of AttestationHash.
	FxQuote *FxQuote `json:"fx_quote,omitempty"`
}

// providerReferencePayload is the structured document sealed into the
// encrypted provider-reference envelope (§4.3 step 11), matching the
// reference service's {sanctions_hits, fx_quote} shape.
type providerReferencePayload struct {
	SanctionsHits []ScreeningHit `json:"sanctions_hits"`
	FxQuote       *FxQuote       `json:"fx_quote,omitempty"`
}

// attestationHashPayload is the natural-order struct hashed in step 10.
type attestationHashPayload struct {
	WorkflowRunID     string   `json:"workflow_run_id"`
	RequestID         string   `json:"request_id"`
	PolicyVersion     string   `json:"policy_version"`
	PolicyHash        string   `json:"policy_hash"`
	Decision          Decision `json:"decision"`
	RiskScore         int      `json:"risk_score"`
	IssuedAt          string   `json:"issued_at"`
	ExpiresAt         string   `json:"expires_at"`
	SanctionsHitCount int      `json:"sanctions_hit_count"`
	SubjectsDigest    string   `json:"subjects_digest"`
	MatchDigest       string   `json:"match_digest"`
}

// RequestRecord backs the compliance_requests collection: the idempotency
// anchor keyed by request_id.
type RequestRecord struct {
	RequestID     string    `json:"request_id"`
	RequestHash   string    `json:"request_hash"`
	AttestationID string    `json:"attestation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScreeningHit is one (subject, sanctions-entry) match above zero confidence.
type ScreeningHit struct {
	EntryName  string `json:"entry_name"`
	Confidence int    `json:"confidence"`
}

type ScreeningResult struct {
	Hits        []ScreeningHit `json:"hits"`
	MatchDigest string         `json:"match_digest"`
}

// SanctionsEntry is one row of the sanctions data file.
type SanctionsEntry struct {
	Source       string `json:"source"`
	Program      string `json:"program"`
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Address      string `json:"address,omitempty"`
}

// PolicySnapshotFile is the file-backed policy bundle described in §6.
type PolicySnapshotFile struct {
	Active struct {
		Version string `json:"version"`
		Hash    string `json:"hash"`
	} `json:"active"`
	Thresholds struct {
		ReviewConfidence int `json:"review_confidence"`
		FailConfidence   int `json:"fail_confidence"`
		PassRiskScore    int `json:"pass_risk_score"`
		ReviewRiskScore  int `json:"review_risk_score"`
		FailRiskScore    int `json:"fail_risk_score"`
	} `json:"thresholds"`
}

// ProviderReference is the encrypted provider-reference envelope persisted
// alongside each request (§4.3 step 11). Plaintext never leaves this
// service; only the envelope is stored.
type ProviderReference struct {
	RequestID      string `json:"request_id"`
	EncryptedValue string `json:"encrypted_value"`
}

// AuditEvent backs the audit_events collection.
type AuditEvent struct {
	EventType string    `json:"event_type"`
	RequestID string    `json:"request_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
