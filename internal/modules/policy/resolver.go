package policy

import (
	"fmt"

	"github.com/aristath/bucketplan/internal/domain"
)

// BucketResolver maps tickers to buckets under one policy version
type BucketResolver struct {
	policy      domain.BucketPolicy
	assignments map[string]domain.BucketCode
	securities  map[string]domain.Security
}

// NewBucketResolver builds a resolver. Assignments for other policy versions are ignored.
func NewBucketResolver(policy domain.BucketPolicy, assignments []domain.BucketAssignment, securities []domain.Security) *BucketResolver {
	byTicker := make(map[string]domain.BucketCode, len(assignments))
	for _, a := range assignments {
		if a.PolicyID == policy.ID {
			byTicker[a.Ticker] = a.Bucket
		}
	}
	secs := make(map[string]domain.Security, len(securities))
	for _, s := range securities {
		secs[s.Ticker] = s
	}
	return &BucketResolver{policy: policy, assignments: byTicker, securities: secs}
}

// Policy returns the policy version the resolver serves
func (r *BucketResolver) Policy() domain.BucketPolicy {
	return r.policy
}

// Security looks up reference data for a ticker
func (r *BucketResolver) Security(ticker string) (domain.Security, bool) {
	s, ok := r.securities[ticker]
	return s, ok
}

// Resolve returns the ticker's bucket. A missing assignment falls back to
// asset-class inference with a warning; an uninferable class yields ok=false
// and an UNASSIGNED_BUCKET warning.
func (r *BucketResolver) Resolve(ticker string) (domain.BucketCode, *domain.Warning, bool) {
	if b, ok := r.assignments[ticker]; ok {
		return b, nil, true
	}
	sec := r.securities[ticker]
	if b, ok := domain.InferBucket(sec.AssetClass); ok {
		return b, &domain.Warning{
			Code:     domain.WarnMissingBucketAssignment,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("%s has no bucket assignment under policy %d; inferred %s from asset class %s", ticker, r.policy.ID, b, sec.AssetClass),
		}, true
	}
	return "", &domain.Warning{
		Code:     domain.WarnUnassignedBucket,
		Severity: domain.SeverityHigh,
		Message:  fmt.Sprintf("%s has no bucket assignment and asset class %q cannot be mapped; excluded from bucket weights", ticker, sec.AssetClass),
	}, false
}

// BucketOf resolves without warnings
func (r *BucketResolver) BucketOf(ticker string) (domain.BucketCode, bool) {
	b, _, ok := r.Resolve(ticker)
	return b, ok
}
