package proofcoordinator

import (
	"math/big"
	"strconv"

	"github.com/otcsettle/controlplane/internal/apperr"
	"github.com/otcsettle/controlplane/internal/cryptoutil"
)

type publicSignalIndex struct {
	WorkflowRunID int
	PolicyVersion int
	ReceiptHash   int
	DomainSeparator int
}

func defaultSignalIndex() publicSignalIndex {
	return publicSignalIndex{WorkflowRunID: 0, PolicyVersion: 1, ReceiptHash: 2, DomainSeparator: 3}
}

// resolveSignalIndex reads receipt_context.publicSignalIndex.*, falling back
// to the 0..3 default for any field left unset.
func resolveSignalIndex(receiptContext map[string]any) publicSignalIndex {
	idx := defaultSignalIndex()
	raw, ok := receiptContext["publicSignalIndex"].(map[string]any)
	if !ok {
		return idx
	}
	if v, ok := asInt(raw["workflowRunId"]); ok {
		idx.WorkflowRunID = v
	}
	if v, ok := asInt(raw["policyVersion"]); ok {
		idx.PolicyVersion = v
	}
	if v, ok := asInt(raw["receiptHash"]); ok {
		idx.ReceiptHash = v
	}
	if v, ok := asInt(raw["domainSeparator"]); ok {
		idx.DomainSeparator = v
	}
	return idx
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// expectedBindingValues resolves the four expected strings from
// receipt_context.binding.* if present, else from the job's own fields.
func expectedBindingValues(job *ProofJob, domainSeparator string) (workflowRunID, policyVersion, receiptHash, domain string) {
	workflowRunID, policyVersion, receiptHash, domain = job.WorkflowRunID, job.PolicyVersion, "", domainSeparator
	binding, ok := job.ReceiptContext["binding"].(map[string]any)
	if !ok {
		if rh, ok := job.ReceiptContext["receiptHash"].(string); ok {
			receiptHash = rh
		}
		return
	}
	if v, ok := binding["workflowRunId"].(string); ok {
		workflowRunID = v
	}
	if v, ok := binding["policyVersion"].(string); ok {
		policyVersion = v
	}
	if v, ok := binding["receiptHash"].(string); ok {
		receiptHash = v
	}
	if v, ok := binding["domainSeparator"].(string); ok {
		domain = v
	}
	return
}

// verifyBinding implements §4.4.1: checks the four required public-signal
// bindings, returning a NON_RETRYABLE-marked error on any mismatch.
func verifyBinding(job *ProofJob, publicSignals []string, domainSeparator string) error {
	idx := resolveSignalIndex(job.ReceiptContext)
	expectedWorkflow, expectedPolicy, expectedReceipt, expectedDomain := expectedBindingValues(job, domainSeparator)

	checks := []struct {
		name     string
		index    int
		expected string
	}{
		{"workflowRunId", idx.WorkflowRunID, expectedWorkflow},
		{"policyVersion", idx.PolicyVersion, expectedPolicy},
		{"receiptHash", idx.ReceiptHash, expectedReceipt},
		{"domainSeparator", idx.DomainSeparator, expectedDomain},
	}

	for _, c := range checks {
		if c.index < 0 {
			return apperr.NewNonRetryable(apperr.CodeBindingInvalidIndex, c.name+" index must be non-negative")
		}
		if c.index >= len(publicSignals) {
			return apperr.NewNonRetryable(apperr.CodeBindingSignalMissing, c.name+" signal index out of range")
		}
		got := publicSignals[c.index]
		if got == "" && c.expected != "" {
			return apperr.NewNonRetryable(apperr.CodeBindingInvalidPublicSignals, c.name+" signal is empty")
		}
		if got != c.expected {
			return apperr.NewNonRetryable(apperr.CodeBindingMismatch, c.name)
		}
	}
	return nil
}

// projectBindingString implements §4.4.1's fixture-preparation projection:
// parse as decimal if all-digit, else take the low 8 bytes of its SHA-256.
func projectBindingString(s string) uint64 {
	if s != "" && isAllDigits(s) {
		n := new(big.Int)
		if _, ok := n.SetString(s, 10); ok {
			mod := new(big.Int).Lsh(big.NewInt(1), 64)
			return n.Mod(n, mod).Uint64()
		}
	}
	digest := cryptoutil.SHA256([]byte(s))
	var v uint64
	for _, b := range digest[24:32] {
		v = v<<8 | uint64(b)
	}
	return v
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// settlementBindingHash implements the settlement-fixture binding_hash:
// w·23 + p·131 + r·17 + d·19, saturating on overflow.
func settlementBindingHash(workflowRunID, policyVersion, receiptHash, domainSeparator string) uint64 {
	w := projectBindingString(workflowRunID)
	p := projectBindingString(policyVersion)
	r := projectBindingString(receiptHash)
	d := projectBindingString(domainSeparator)
	return saturatingAdd(
		saturatingAdd(saturatingMul(w, 23), saturatingMul(p, 131)),
		saturatingAdd(saturatingMul(r, 17), saturatingMul(d, 19)),
	)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/a != b {
		return ^uint64(0)
	}
	return product
}

// settlementFixtureProjections is injected into the settlement proof type's
// prover input alongside binding_hash.
func settlementFixtureProjections(workflowRunID, policyVersion, receiptHash, domainSeparator string) map[string]any {
	return map[string]any{
		"workflowRunIdProjection":   strconv.FormatUint(projectBindingString(workflowRunID), 10),
		"policyVersionProjection":   strconv.FormatUint(projectBindingString(policyVersion), 10),
		"receiptHashProjection":     strconv.FormatUint(projectBindingString(receiptHash), 10),
		"domainSeparatorProjection": strconv.FormatUint(projectBindingString(domainSeparator), 10),
		"bindingHash":               strconv.FormatUint(settlementBindingHash(workflowRunID, policyVersion, receiptHash, domainSeparator), 10),
	}
}
