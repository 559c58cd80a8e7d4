package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is BUY or SELL
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeKey is the stable identifier overrides are keyed by
func TradeKey(side TradeSide, accountID int64, ticker string) string {
	return fmt.Sprintf("%s:%d:%s", side, accountID, ticker)
}

// SequencedTradeKey keeps the first trade on a key unchanged and suffixes
// later ones with their sequence number.
func SequencedTradeKey(key string, seq int) string {
	if seq <= 1 {
		return key
	}
	return fmt.Sprintf("%s#%d", key, seq)
}

// Lot pick rationale tags
const (
	TagLossHarvest            = "loss-harvest"
	TagLTPreferred            = "LT-preferred"
	TagSTOverrideRequired     = "ST-override-required"
	TagWashMitigationRequired = "wash-mitigation-required"
	TagFIFO                   = "FIFO"
	TagLIFO                   = "LIFO"
)

// LotPick is a proposed allocation of a sale against one lot. The lot itself
// is untouched.
type LotPick struct {
	LotID           int64           `json:"lot_id"`
	AccountID       int64           `json:"account_id"`
	Ticker          string          `json:"ticker"`
	AcquisitionDate time.Time       `json:"acquisition_date"`
	HoldingDays     int             `json:"holding_days"`
	Term            Term            `json:"term"`
	LotQuantity     decimal.Decimal `json:"lot_quantity"`
	Quantity        decimal.Decimal `json:"quantity"`
	BasisAllocated  decimal.Decimal `json:"basis_allocated"`
	Proceeds        decimal.Decimal `json:"proceeds"`
	RealizedGain    decimal.Decimal `json:"realized_gain"`
	Tags            []string        `json:"tags"`
}

// HasTag reports whether the pick carries the tag
func (p LotPick) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WashStatus classifies wash-sale risk for a loss sale
type WashStatus string

const (
	WashDefinite      WashStatus = "DEFINITE"
	WashPossible      WashStatus = "POSSIBLE"
	WashSafe          WashStatus = "SAFE"
	WashNotApplicable WashStatus = "N/A"
)

// Rank orders statuses from safest to riskiest
func (s WashStatus) Rank() int {
	switch s {
	case WashSafe, WashNotApplicable:
		return 0
	case WashPossible:
		return 1
	case WashDefinite:
		return 2
	}
	return 3
}

// Wash evidence sources
const (
	EvidenceExecutedBuy = "EXECUTED_BUY"
	EvidenceProposedBuy = "PROPOSED_BUY"
)

// WashEvidence is one buy inside the wash window
type WashEvidence struct {
	Source        string          `json:"source"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	AccountID     int64           `json:"account_id"`
	Ticker        string          `json:"ticker"`
	Date          time.Time       `json:"date"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unresolved    bool            `json:"unresolved,omitempty"`
}

// Mitigation kinds
const (
	MitigationDelay  = "DELAY"
	MitigationReduce = "REDUCE"
	MitigationSwap   = "SWAP"
)

// Mitigation is a suggestion only; the planner never applies it
type Mitigation struct {
	Type         string           `json:"type"`
	Description  string           `json:"description"`
	ResumeDate   *time.Time       `json:"resume_date,omitempty"`
	SafeQuantity *decimal.Decimal `json:"safe_quantity,omitempty"`
	Substitutes  []string         `json:"substitutes,omitempty"`
}

// WashAssessment is the detector's verdict for one sale
type WashAssessment struct {
	Status      WashStatus     `json:"status"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Evidence    []WashEvidence `json:"evidence,omitempty"`
	Mitigations []Mitigation   `json:"mitigations,omitempty"`
}

// Trade is one proposed order with its rationale
type Trade struct {
	Key                string          `json:"key"`
	TaxpayerID         int64           `json:"taxpayer_id"`
	AccountID          int64           `json:"account_id"`
	Ticker             string          `json:"ticker"`
	Side               TradeSide       `json:"side"`
	Bucket             BucketCode      `json:"bucket"`
	Quantity           decimal.Decimal `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
	PriceIsPlaceholder bool            `json:"price_is_placeholder,omitempty"`
	EstimatedValue     decimal.Decimal `json:"estimated_value"`
	LotPicks           []LotPick       `json:"lot_picks,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	Rationale          string          `json:"rationale"`
	WashRisk           WashStatus      `json:"wash_risk"`
	Wash               *WashAssessment `json:"wash,omitempty"`
	RealizedST         decimal.Decimal `json:"realized_st"`
	RealizedLT         decimal.Decimal `json:"realized_lt"`
	EstimatedTax       decimal.Decimal `json:"estimated_tax"`
	RequiresOverride   bool            `json:"requires_override,omitempty"`
	OverrideReason     string          `json:"override_reason,omitempty"`
}

// RealizedGain is the trade's total realized gain
func (t Trade) RealizedGain() decimal.Decimal {
	return t.RealizedST.Add(t.RealizedLT)
}

// IsLossSale reports whether the trade is a sale realizing a net loss
func (t Trade) IsLossSale() bool {
	return t.Side == SideSell && t.RealizedGain().IsNegative()
}

// ExcludedTrade is a candidate the gates kept out of the plan
type ExcludedTrade struct {
	Trade  Trade  `json:"trade"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Bucket statuses
const (
	StatusGreen  = "GREEN"
	StatusYellow = "YELLOW"
	StatusRed    = "RED"
)

// BucketDrift is one row of a drift report
type BucketDrift struct {
	Bucket      BucketCode      `json:"bucket"`
	Name        string          `json:"name"`
	MarketValue decimal.Decimal `json:"market_value"`
	ActualPct   decimal.Decimal `json:"actual_pct"`
	MinPct      decimal.Decimal `json:"min_pct"`
	TargetPct   decimal.Decimal `json:"target_pct"`
	MaxPct      decimal.Decimal `json:"max_pct"`
	Drift       decimal.Decimal `json:"drift"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason"`
}

// Violation kinds
const (
	ViolationBelowMin            = "BELOW_MIN"
	ViolationAboveMax            = "ABOVE_MAX"
	ViolationDisallowedClass     = "DISALLOWED_ASSET_CLASS"
	ViolationSingleConcentration = "SINGLE_NAME_CONCENTRATION"
)

// Violation is a reported (never auto-corrected) policy breach
type Violation struct {
	Kind    string     `json:"kind"`
	Bucket  BucketCode `json:"bucket,omitempty"`
	Ticker  string     `json:"ticker,omitempty"`
	Message string     `json:"message"`
}

// DriftReport is the policy engine's view of one holdings set
type DriftReport struct {
	PolicyID   int64           `json:"policy_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	Buckets    []BucketDrift   `json:"buckets"`
	Violations []Violation     `json:"violations,omitempty"`
	L1         float64         `json:"l1_drift"`
	L2         float64         `json:"l2_drift"`
}

// BucketRow returns the row for a bucket code
func (r DriftReport) BucketRow(code BucketCode) (BucketDrift, bool) {
	for _, b := range r.Buckets {
		if b.Bucket == code {
			return b, true
		}
	}
	return BucketDrift{}, false
}

// TaxpayerDrift is the before/after drift for one taxpayer
type TaxpayerDrift struct {
	TaxpayerID int64       `json:"taxpayer_id"`
	Before     DriftReport `json:"before"`
	After      DriftReport `json:"after"`
}

// PlanDrift holds scope-wide and per-taxpayer drift
type PlanDrift struct {
	Before    DriftReport     `json:"before"`
	After     DriftReport     `json:"after"`
	Taxpayers []TaxpayerDrift `json:"taxpayers"`
}

// TaxComponents are the income inputs of the estimate formula
type TaxComponents struct {
	STGains          decimal.Decimal `json:"st_gains"`
	LTGains          decimal.Decimal `json:"lt_gains"`
	Interest         decimal.Decimal `json:"interest"`
	NonQualifiedDivs decimal.Decimal `json:"nonqualified_divs"`
	QualifiedDivs    decimal.Decimal `json:"qualified_divs"`
}

// Add sums two component sets
func (c TaxComponents) Add(o TaxComponents) TaxComponents {
	return TaxComponents{
		STGains:          c.STGains.Add(o.STGains),
		LTGains:          c.LTGains.Add(o.LTGains),
		Interest:         c.Interest.Add(o.Interest),
		NonQualifiedDivs: c.NonQualifiedDivs.Add(o.NonQualifiedDivs),
		QualifiedDivs:    c.QualifiedDivs.Add(o.QualifiedDivs),
	}
}

// TaxLine is a component set and its estimated tax
type TaxLine struct {
	Components TaxComponents   `json:"components"`
	Amount     decimal.Decimal `json:"amount"`
}

// TaxpayerTaxEstimate is one taxpayer's baseline, with-plan and delta estimate
type TaxpayerTaxEstimate struct {
	TaxpayerID  int64            `json:"taxpayer_id"`
	Name        string           `json:"name"`
	Type        TaxpayerType     `json:"type"`
	Excluded    bool             `json:"excluded"`
	Note        string           `json:"note,omitempty"`
	Baseline    TaxLine          `json:"baseline"`
	Plan        TaxLine          `json:"plan"`
	WithPlan    TaxLine          `json:"with_plan"`
	Delta       decimal.Decimal  `json:"delta"`
	Withholding decimal.Decimal  `json:"withholding"`
	NetDue      *decimal.Decimal `json:"net_due,omitempty"`
}

// TaxEstimate aggregates taxpayer estimates for a plan
type TaxEstimate struct {
	Assumptions TaxAssumptions        `json:"assumptions"`
	Taxpayers   []TaxpayerTaxEstimate `json:"taxpayers"`
	TotalDelta  decimal.Decimal       `json:"total_delta"`
	Limitations []string              `json:"limitations"`
}

// TaxpayerTotals is the market value snapshot of one taxpayer
type TaxpayerTotals struct {
	TaxpayerID int64           `json:"taxpayer_id"`
	Name       string          `json:"name"`
	Type       TaxpayerType    `json:"type"`
	Accounts   int             `json:"accounts"`
	Lots       int             `json:"lots"`
	Securities decimal.Decimal `json:"securities_value"`
	Cash       decimal.Decimal `json:"cash"`
	Total      decimal.Decimal `json:"total"`
}

// SnapshotTotals summarizes the input snapshot a plan was built from
type SnapshotTotals struct {
	Securities decimal.Decimal  `json:"securities_value"`
	Cash       decimal.Decimal  `json:"cash"`
	Total      decimal.Decimal  `json:"total"`
	Taxpayers  []TaxpayerTotals `json:"taxpayers"`
}

// PlanStatus is DRAFT or FINAL
type PlanStatus string

const (
	PlanDraft PlanStatus = "DRAFT"
	PlanFinal PlanStatus = "FINAL"
)

// PlanInputs records everything the outputs are derived from
type PlanInputs struct {
	Goal           Goal           `json:"goal"`
	Scope          TaxpayerScope  `json:"scope"`
	AsOf           time.Time      `json:"as_of"`
	Assumptions    TaxAssumptions `json:"assumptions"`
	Options        PlannerOptions `json:"options"`
	Overrides      []Override     `json:"overrides"`
	Status         PlanStatus     `json:"status"`
	PolicyID       int64          `json:"policy_id"`
	SnapshotTotals SnapshotTotals `json:"snapshot_totals"`
}

// PlanOutputs is the deterministic result of a planning run
type PlanOutputs struct {
	Trades      []Trade         `json:"trades"`
	LotPicks    []LotPick       `json:"lot_picks"`
	TaxEstimate TaxEstimate     `json:"tax_estimate"`
	Drift       PlanDrift       `json:"drift"`
	Warnings    []Warning       `json:"warnings"`
	Excluded    []ExcludedTrade `json:"excluded"`
}

// Digest returns the sha256 of the canonical JSON encoding of the outputs
func (o PlanOutputs) Digest() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode plan outputs: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Plan is a write-once planning record. Superseding a plan means creating a new one.
type Plan struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Actor         string      `json:"actor"`
	Status        PlanStatus  `json:"status"`
	Inputs        PlanInputs  `json:"inputs"`
	Outputs       PlanOutputs `json:"outputs"`
	OutputsDigest string      `json:"outputs_digest"`
}

// Summary returns the listing view of the plan
func (p Plan) Summary() PlanSummary {
	return PlanSummary{
		ID:            p.ID,
		CreatedAt:     p.CreatedAt,
		Status:        p.Status,
		Goal:          p.Inputs.Goal.Type,
		Scope:         p.Inputs.Scope,
		AsOf:          p.Inputs.AsOf,
		Trades:        len(p.Outputs.Trades),
		Warnings:      len(p.Outputs.Warnings),
		TaxDelta:      p.Outputs.TaxEstimate.TotalDelta,
		OutputsDigest: p.OutputsDigest,
	}
}

// PlanSummary is the listing view of a stored plan
type PlanSummary struct {
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        PlanStatus      `json:"status"`
	Goal          GoalType        `json:"goal"`
	Scope         TaxpayerScope   `json:"scope"`
	AsOf          time.Time       `json:"as_of"`
	Trades        int             `json:"trades"`
	Warnings      int             `json:"warnings"`
	TaxDelta      decimal.Decimal `json:"tax_delta"`
	OutputsDigest string          `json:"outputs_digest"`
}
