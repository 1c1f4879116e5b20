package policysnapshot

import (
	"github.com/otcsettle/controlplane/internal/apperr"
)

// validateRuleBundle enforces §4.1's bounds: limits.{min_notional,max_notional}
// positive integers with min <= max, non-empty countries[], and
// thresholds.{review_confidence,fail_confidence} both in [0,100] with
// review <= fail.
func validateRuleBundle(b RuleBundle) *apperr.Error {
	if b.Limits.MinNotional <= 0 || b.Limits.MaxNotional <= 0 {
		return apperr.BadRequest("INVALID_RULE_BUNDLE", "limits.min_notional and limits.max_notional must be positive")
	}
	if b.Limits.MinNotional > b.Limits.MaxNotional {
		return apperr.BadRequest("INVALID_RULE_BUNDLE", "limits.min_notional must be <= limits.max_notional")
	}
	if len(b.Countries) == 0 {
		return apperr.BadRequest("INVALID_RULE_BUNDLE", "countries must be non-empty")
	}
	for _, c := range b.Countries {
		if c == "" {
			return apperr.BadRequest("INVALID_RULE_BUNDLE", "countries entries must be non-empty strings")
		}
	}
	t := b.Thresholds
	if t.ReviewConfidence < 0 || t.ReviewConfidence > 100 || t.FailConfidence < 0 || t.FailConfidence > 100 {
		return apperr.BadRequest("INVALID_RULE_BUNDLE", "thresholds must be within [0,100]")
	}
	if t.ReviewConfidence > t.FailConfidence {
		return apperr.BadRequest("INVALID_RULE_BUNDLE", "thresholds.review_confidence must be <= thresholds.fail_confidence")
	}
	return nil
}
