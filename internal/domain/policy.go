package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BucketCode identifies one of the four portfolio tiers
type BucketCode string

const (
	BucketLiquidity BucketCode = "B1"
	BucketIncome    BucketCode = "B2"
	BucketGrowth    BucketCode = "B3"
	BucketAlpha     BucketCode = "B4"
)

// BucketCodes lists every bucket in canonical order
var BucketCodes = []BucketCode{BucketLiquidity, BucketIncome, BucketGrowth, BucketAlpha}

// Valid reports whether c is one of the four buckets
func (c BucketCode) Valid() bool {
	for _, code := range BucketCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Bucket is one tier's weight band and allowed asset classes under a policy version
type Bucket struct {
	Code           BucketCode      `json:"code"`
	Name           string          `json:"name"`
	MinPct         decimal.Decimal `json:"min_pct"`
	TargetPct      decimal.Decimal `json:"target_pct"`
	MaxPct         decimal.Decimal `json:"max_pct"`
	AllowedClasses []string        `json:"allowed_asset_classes"`
}

// Allows reports whether the asset class may be held in this bucket
func (b Bucket) Allows(assetClass string) bool {
	for _, c := range b.AllowedClasses {
		if c == assetClass {
			return true
		}
	}
	return false
}

// BucketPolicy is a versioned allocation policy
type BucketPolicy struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	EffectiveDate    time.Time       `json:"effective_date"`
	MaxSingleNamePct decimal.Decimal `json:"max_single_name_pct"`
	Buckets          []Bucket        `json:"buckets"`
}

// Bucket returns the bucket with the given code
func (p BucketPolicy) Bucket(code BucketCode) (Bucket, bool) {
	for _, b := range p.Buckets {
		if b.Code == code {
			return b, true
		}
	}
	return Bucket{}, false
}

// Validate checks band ordering and bucket coverage
func (p BucketPolicy) Validate() error {
	errs := &ValidationErrors{Kind: ErrInvalidPolicy}
	seen := make(map[BucketCode]bool)
	one := decimal.NewFromInt(1)
	for _, b := range p.Buckets {
		field := fmt.Sprintf("buckets.%s", b.Code)
		if seen[b.Code] {
			errs.Add(field, "duplicate bucket code")
		}
		seen[b.Code] = true
		if b.MinPct.IsNegative() || b.MaxPct.GreaterThan(one) {
			errs.Add(field, "band must lie within [0, 1]")
		}
		if b.MinPct.GreaterThan(b.TargetPct) || b.TargetPct.GreaterThan(b.MaxPct) {
			errs.Add(field, "min <= target <= max is required")
		}
	}
	for _, code := range BucketCodes {
		if !seen[code] {
			errs.Add(fmt.Sprintf("buckets.%s", code), "missing bucket")
		}
	}
	if p.MaxSingleNamePct.IsNegative() || p.MaxSingleNamePct.GreaterThan(one) {
		errs.Add("max_single_name_pct", "must lie within [0, 1]")
	}
	return errs.OrNil()
}

// BucketAssignment maps a security to a bucket under one policy version
type BucketAssignment struct {
	PolicyID int64      `json:"policy_id"`
	Ticker   string     `json:"ticker"`
	Bucket   BucketCode `json:"bucket_code"`
}

// ActivePolicy returns the policy with the latest effective date on or before asOf.
// Ties on effective date resolve to the highest ID.
func ActivePolicy(policies []BucketPolicy, asOf time.Time) (BucketPolicy, error) {
	day := DateOnly(asOf)
	candidates := make([]BucketPolicy, 0, len(policies))
	for _, p := range policies {
		if !DateOnly(p.EffectiveDate).After(day) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return BucketPolicy{}, fmt.Errorf("%w: %s", ErrNoActivePolicy, day.Format(DateLayout))
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		return a.ID > b.ID
	})
	return candidates[0], nil
}

// InferBucket maps an asset class onto a bucket when no assignment exists
func InferBucket(assetClass string) (BucketCode, bool) {
	switch assetClass {
	case "CASH", "MMF":
		return BucketLiquidity, true
	case "BOND", "CREDIT", "DIVIDEND":
		return BucketIncome, true
	case "EQUITY", "INDEX", "GROWTH":
		return BucketGrowth, true
	case "ALTERNATIVE", "THEMATIC", "ALPHA":
		return BucketAlpha, true
	}
	return "", false
}
