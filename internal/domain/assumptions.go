package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxAssumptions are the user-editable rates used for estimation
type TaxAssumptions struct {
	OrdinaryRate         decimal.Decimal `json:"ordinary_rate"`
	LTCGRate             decimal.Decimal `json:"ltcg_rate"`
	StateRate            decimal.Decimal `json:"state_rate"`
	NIITEnabled          bool            `json:"niit_enabled"`
	NIITRate             decimal.Decimal `json:"niit_rate"`
	QualifiedDividendPct decimal.Decimal `json:"qualified_dividend_pct"`
}

// DefaultTaxAssumptions returns the household defaults
func DefaultTaxAssumptions() TaxAssumptions {
	return TaxAssumptions{
		OrdinaryRate:         decimal.RequireFromString("0.37"),
		LTCGRate:             decimal.RequireFromString("0.20"),
		StateRate:            decimal.RequireFromString("0.05"),
		NIITEnabled:          true,
		NIITRate:             decimal.RequireFromString("0.038"),
		QualifiedDividendPct: decimal.Zero,
	}
}

// Validate rejects negative or above-one rates
func (a TaxAssumptions) Validate() error {
	errs := &ValidationErrors{Kind: ErrInvalidAssumptions}
	one := decimal.NewFromInt(1)
	check := func(field string, v decimal.Decimal) {
		if v.IsNegative() {
			errs.Add(field, "must not be negative")
		} else if v.GreaterThan(one) {
			errs.Add(field, "must not exceed 1")
		}
	}
	check("ordinary_rate", a.OrdinaryRate)
	check("ltcg_rate", a.LTCGRate)
	check("state_rate", a.StateRate)
	check("niit_rate", a.NIITRate)
	check("qualified_dividend_pct", a.QualifiedDividendPct)
	return errs.OrNil()
}

// LotStrategy selects how sell-side lots are chosen
type LotStrategy string

const (
	LotStrategyTaxMinimizing LotStrategy = "SPECIFIC_ID_TAX_MINIMIZING"
	LotStrategyFIFO          LotStrategy = "FIFO"
	LotStrategyLIFO          LotStrategy = "LIFO"
)

// Valid reports whether the strategy is known
func (s LotStrategy) Valid() bool {
	switch s {
	case LotStrategyTaxMinimizing, LotStrategyFIFO, LotStrategyLIFO:
		return true
	}
	return false
}

// MinWashWindowDays is the statutory wash-sale window on each side of a sale
const MinWashWindowDays = 30

// PlannerOptions tunes one planning run. Defaults come from configuration.
type PlannerOptions struct {
	LotStrategy          LotStrategy     `json:"lot_strategy"`
	MinTradeValue        decimal.Decimal `json:"min_trade_value"`
	PlaceholderPrice     decimal.Decimal `json:"placeholder_price"`
	MaterialityThreshold decimal.Decimal `json:"materiality_threshold"`
	WashWindowDays       int             `json:"wash_window_days"`
}

// DefaultPlannerOptions returns the built-in option defaults
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		LotStrategy:          LotStrategyTaxMinimizing,
		MinTradeValue:        decimal.NewFromInt(250),
		PlaceholderPrice:     decimal.NewFromInt(1),
		MaterialityThreshold: decimal.NewFromInt(1000),
		WashWindowDays:       30,
	}
}

// Validate checks option ranges
func (o PlannerOptions) Validate() error {
	errs := &ValidationErrors{Kind: ErrInvalidAssumptions}
	if !o.LotStrategy.Valid() {
		errs.Add("lot_strategy", "unknown lot strategy")
	}
	if o.MinTradeValue.IsNegative() {
		errs.Add("min_trade_value", "must not be negative")
	}
	if !o.PlaceholderPrice.IsPositive() {
		errs.Add("placeholder_price", "must be positive")
	}
	if o.MaterialityThreshold.IsNegative() {
		errs.Add("materiality_threshold", "must not be negative")
	}
	if o.WashWindowDays < MinWashWindowDays {
		errs.Add("wash_window_days", fmt.Sprintf("must be at least %d", MinWashWindowDays))
	}
	return errs.OrNil()
}

// WithDefaults fills every unset field from d. A zero minimum trade value
// or materiality threshold therefore means "use the default".
func (o PlannerOptions) WithDefaults(d PlannerOptions) PlannerOptions {
	if o.LotStrategy == "" {
		o.LotStrategy = d.LotStrategy
	}
	if o.MinTradeValue.IsZero() {
		o.MinTradeValue = d.MinTradeValue
	}
	if o.PlaceholderPrice.IsZero() {
		o.PlaceholderPrice = d.PlaceholderPrice
	}
	if o.MaterialityThreshold.IsZero() {
		o.MaterialityThreshold = d.MaterialityThreshold
	}
	if o.WashWindowDays == 0 {
		o.WashWindowDays = d.WashWindowDays
	}
	return o
}

// Override authorizes one otherwise-gated trade
type Override struct {
	TradeKey string `json:"trade_key"`
	Reason   string `json:"reason"`
}

// OverrideSet maps trade keys to override reasons
type OverrideSet map[string]string

// Reason returns the non-blank reason for a trade key
func (o OverrideSet) Reason(key string) (string, bool) {
	r, ok := o[key]
	if !ok || isBlank(r) {
		return "", false
	}
	return r, true
}

// Sorted returns overrides ordered by trade key
func (o OverrideSet) Sorted() []Override {
	out := make([]Override, 0, len(o))
	for k, v := range o {
		out = append(out, Override{TradeKey: k, Reason: v})
	}
	sortOverrides(out)
	return out
}
