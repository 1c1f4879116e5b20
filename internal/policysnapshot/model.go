// Package policysnapshot implements §4.1: content-addressed immutable rule
// bundles, an activation timeline, and per-run effective-policy evidence.
package policysnapshot

import "time"

// RuleBundle is the validated shape §4.1 requires of a rule bundle.
type RuleBundle struct {
	Limits struct {
		MinNotional int64 `json:"min_notional"`
		MaxNotional int64 `json:"max_notional"`
	} `json:"limits"`
	Countries  []string `json:"countries"`
	Thresholds struct {
		ReviewConfidence int `json:"review_confidence"`
		FailConfidence   int `json:"fail_confidence"`
	} `json:"thresholds"`
}

// Snapshot is the PolicySnapshot entity of §3.
type Snapshot struct {
	PolicyVersion      string          `json:"policy_version"`
	PolicyHash         string          `json:"policy_hash"`
	CanonicalRules     RuleBundle      `json:"canonical_rules"`
	CanonicalRulesJSON string          `json:"canonical_rules_json"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ActiveMapping is ActivePolicyMapping from §3.
type ActiveMapping struct {
	OnchainPolicyVersion string     `json:"onchain_policy_version"`
	PolicyVersion        string     `json:"policy_version"`
	PolicyHash           string     `json:"policy_hash"`
	ActivatedAt          time.Time  `json:"activated_at"`
	DeactivatedAt        *time.Time `json:"deactivated_at,omitempty"`
}

// RunEvidence is RunPolicyEvidence from §3.
type RunEvidence struct {
	RunID              string     `json:"run_id"`
	RunTimestamp        int64      `json:"run_timestamp"`
	VersionHint         *string    `json:"version_hint,omitempty"`
	PolicyVersion       string     `json:"policy_version"`
	PolicyHash          string     `json:"policy_hash"`
	ActivatedAt         time.Time  `json:"activated_at"`
	DeactivatedAt       *time.Time `json:"deactivated_at,omitempty"`
	EvidenceHash        string     `json:"evidence_hash"`
	EvidenceSignature   *string    `json:"evidence_signature,omitempty"`
}

// evidenceHashPayload is serialized in natural field order (not sorted) to
// derive evidence_hash, per §4.1 and SPEC_FULL.md §9's canonical-JSON rule.
type evidenceHashPayload struct {
	RunID         string     `json:"run_id"`
	RunTimestamp  int64      `json:"run_timestamp"`
	VersionHint   *string    `json:"version_hint,omitempty"`
	PolicyVersion string     `json:"policy_version"`
	PolicyHash    string     `json:"policy_hash"`
	ActivatedAt   time.Time  `json:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// AuditEvent backs the policy_audit_log collection (§6; see SPEC_FULL.md
// §4.1 Expansion for the supplemented write-on-every-state-change behavior).
type AuditEvent struct {
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
