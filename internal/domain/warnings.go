package domain

import (
	"sort"
	"strings"
)

// Severity of a recorded warning
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityHigh    Severity = "HIGH"
)

// Warning codes
const (
	WarnMissingBucketAssignment = "MISSING_BUCKET_ASSIGNMENT"
	WarnUnassignedBucket        = "UNASSIGNED_BUCKET"
	WarnMissingPrice            = "MISSING_PRICE"
	WarnInsufficientLots        = "INSUFFICIENT_LOTS"
	WarnWashSalePossible        = "WASH_SALE_POSSIBLE"
	WarnWashSaleDefinite        = "WASH_SALE_DEFINITE"
	WarnPolicyOverrideApplied   = "POLICY_OVERRIDE_APPLIED"
	WarnPolicyViolationExcluded = "POLICY_VIOLATION_EXCLUDED"
	WarnSTGainOverrideRequired  = "ST_GAIN_OVERRIDE_REQUIRED"
	WarnSTGainOverrideApplied   = "ST_GAIN_OVERRIDE_APPLIED"
	WarnWashOverrideApplied     = "WASH_OVERRIDE_APPLIED"
	WarnSTLossIncluded          = "ST_LOSS_INCLUDED"
	WarnWashUnsafeSkipped       = "WASH_UNSAFE_SKIPPED"
	WarnBuyLimitedByCash        = "BUY_LIMITED_BY_CASH"
	WarnNoBuyCandidate          = "NO_BUY_CANDIDATE"
	WarnGoalShortfall           = "GOAL_SHORTFALL"
	WarnLotPositionMismatch     = "LOT_POSITION_MISMATCH"
	WarnUnknownTerm             = "UNKNOWN_TERM"
	WarnMissingSaleBasis        = "MISSING_SALE_BASIS"
	WarnPartialDataset          = "PARTIAL_DATASET"
	WarnNothingToPlan           = "NOTHING_TO_PLAN"
	WarnProjectedViolation      = "PROJECTED_VIOLATION"
)

// Warning is a recoverable or informational condition attached to a plan,
// scoped to the trade or lot it concerns where possible.
type Warning struct {
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	TaxpayerID int64    `json:"taxpayer_id,omitempty"`
	TradeKey   string   `json:"trade_key,omitempty"`
	LotID      int64    `json:"lot_id,omitempty"`
}

// SortWarnings orders warnings deterministically without losing duplicates
func SortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if a.TaxpayerID != b.TaxpayerID {
			return a.TaxpayerID < b.TaxpayerID
		}
		if a.TradeKey != b.TradeKey {
			return a.TradeKey < b.TradeKey
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.LotID != b.LotID {
			return a.LotID < b.LotID
		}
		return a.Message < b.Message
	})
}

// DedupeWarnings drops exact repeats, keeping first occurrences
func DedupeWarnings(ws []Warning) []Warning {
	seen := make(map[Warning]bool, len(ws))
	out := ws[:0:0]
	for _, w := range ws {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func sortOverrides(os []Override) {
	sort.Slice(os, func(i, j int) bool { return os[i].TradeKey < os[j].TradeKey })
}
