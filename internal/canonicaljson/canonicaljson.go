// Package canonicaljson implements the two distinct canonical-JSON variants
// named in SPEC_FULL.md §9: recursive key-sorted canonicalization for policy
// rule bundles, and natural (struct field order, never sorted) serialization
// for every request-hash/signing payload. Conflating the two breaks
// signatures, so the two are kept as separate, differently-named functions
// rather than a single function with a "sorted bool" flag a caller could
// flip by mistake.
package canonicaljson

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Sorted canonicalizes v (first marshalled with encoding/json, then passed
// through an RFC 8785 JSON Canonicalization Scheme transform) by recursively
// sorting object keys lexicographically. This is the variant §4.1 uses to
// derive policy_hash from a rule bundle.
func Sorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonical, nil
}

// Natural serializes v using the natural field ordering of the typed Go
// value — encoding/json.Marshal already preserves struct field declaration
// order, so no sorting is applied. This is the variant used for
// request-hash and signing payloads (attestation hash, proof job request
// hash, run evidence hash). The intent commitment hash does not use it: it
// hashes a "|"-joined string.
func Natural(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return raw, nil
}
