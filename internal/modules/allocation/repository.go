package allocation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles versioned bucket policies and bucket assignments
// Database: portfolio.db (bucket_policies, policy_buckets, bucket_assignments tables)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new allocation repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "allocation").Logger(),
	}
}

// Policies returns every policy version with its buckets, ordered by
// effective date then ID
func (r *Repository) Policies(ctx context.Context) ([]domain.BucketPolicy, error) {
	q := r.db.Querier(ctx)
	rows, err := q.QueryContext(ctx, `SELECT id, name, effective_date, max_single_name_pct
		FROM bucket_policies ORDER BY effective_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	policies := []domain.BucketPolicy{}
	index := make(map[int64]int)
	for rows.Next() {
		var p domain.BucketPolicy
		var effective, maxSingle string
		if err := rows.Scan(&p.ID, &p.Name, &effective, &maxSingle); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		if p.EffectiveDate, err = database.ParseDate(effective); err != nil {
			return nil, fmt.Errorf("policy %d: %w", p.ID, err)
		}
		if p.MaxSingleNamePct, err = database.ParseDecimal("max_single_name_pct", maxSingle); err != nil {
			return nil, fmt.Errorf("policy %d: %w", p.ID, err)
		}
		p.Buckets = []domain.Bucket{}
		index[p.ID] = len(policies)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}
	if len(policies) == 0 {
		return policies, nil
	}

	bucketRows, err := q.QueryContext(ctx, `SELECT policy_id, code, name, min_pct, target_pct, max_pct, allowed_asset_classes
		FROM policy_buckets ORDER BY policy_id, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy buckets: %w", err)
	}
	defer bucketRows.Close()

	for bucketRows.Next() {
		var policyID int64
		var b domain.Bucket
		var code, minPct, targetPct, maxPct, classes string
		if err := bucketRows.Scan(&policyID, &code, &b.Name, &minPct, &targetPct, &maxPct, &classes); err != nil {
			return nil, fmt.Errorf("failed to scan policy bucket: %w", err)
		}
		b.Code = domain.BucketCode(code)
		if b.MinPct, err = database.ParseDecimal("min_pct", minPct); err != nil {
			return nil, fmt.Errorf("policy %d bucket %s: %w", policyID, code, err)
		}
		if b.TargetPct, err = database.ParseDecimal("target_pct", targetPct); err != nil {
			return nil, fmt.Errorf("policy %d bucket %s: %w", policyID, code, err)
		}
		if b.MaxPct, err = database.ParseDecimal("max_pct", maxPct); err != nil {
			return nil, fmt.Errorf("policy %d bucket %s: %w", policyID, code, err)
		}
		b.AllowedClasses = splitClasses(classes)
		if i, ok := index[policyID]; ok {
			policies[i].Buckets = append(policies[i].Buckets, b)
		}
	}
	if err := bucketRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy buckets: %w", err)
	}
	return policies, nil
}

// Assignments returns the bucket assignments of one policy version
func (r *Repository) Assignments(ctx context.Context, policyID int64) ([]domain.BucketAssignment, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `SELECT policy_id, ticker, bucket_code
		FROM bucket_assignments WHERE policy_id = ? ORDER BY ticker`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket assignments: %w", err)
	}
	defer rows.Close()

	assignments := []domain.BucketAssignment{}
	for rows.Next() {
		var a domain.BucketAssignment
		var code string
		if err := rows.Scan(&a.PolicyID, &a.Ticker, &code); err != nil {
			return nil, fmt.Errorf("failed to scan bucket assignment: %w", err)
		}
		a.Bucket = domain.BucketCode(code)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bucket assignments: %w", err)
	}
	return assignments, nil
}

// CreatePolicy validates and stores a new policy version. Existing versions
// are never modified; a later effective date supersedes them. A zero ID is
// assigned by the database.
func (r *Repository) CreatePolicy(ctx context.Context, p domain.BucketPolicy) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return 0, fmt.Errorf("%w: name is required", domain.ErrInvalidPolicy)
	}

	var id int64
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO bucket_policies (id, name, effective_date, max_single_name_pct)
			VALUES (?, ?, ?, ?)`,
			sql.NullInt64{Int64: p.ID, Valid: p.ID != 0}, p.Name, database.FormatDate(p.EffectiveDate), p.MaxSingleNamePct.String())
		if err != nil {
			return fmt.Errorf("failed to insert policy %s: %w", p.Name, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, b := range p.Buckets {
			_, err := tx.ExecContext(ctx, `INSERT INTO policy_buckets
				(policy_id, code, name, min_pct, target_pct, max_pct, allowed_asset_classes)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, string(b.Code), b.Name, b.MinPct.String(), b.TargetPct.String(), b.MaxPct.String(),
				strings.Join(b.AllowedClasses, ","))
			if err != nil {
				return fmt.Errorf("failed to insert bucket %s of policy %s: %w", b.Code, p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info().
		Int64("policy_id", id).
		Str("name", p.Name).
		Str("effective_date", database.FormatDate(p.EffectiveDate)).
		Msg("Policy version created")
	return id, nil
}

// Assign maps a ticker to a bucket under one policy version, replacing any
// earlier assignment of that ticker in the same version
func (r *Repository) Assign(ctx context.Context, a domain.BucketAssignment) error {
	if !a.Bucket.Valid() {
		return fmt.Errorf("%w: unknown bucket %q", domain.ErrInvalidPolicy, a.Bucket)
	}
	_, err := r.db.Conn().ExecContext(ctx, `INSERT INTO bucket_assignments (policy_id, ticker, bucket_code) VALUES (?, ?, ?)
		ON CONFLICT(policy_id, ticker) DO UPDATE SET bucket_code = excluded.bucket_code`,
		a.PolicyID, a.Ticker, string(a.Bucket))
	if err != nil {
		return fmt.Errorf("failed to assign %s to %s: %w", a.Ticker, a.Bucket, err)
	}
	return nil
}

// DefaultPolicy is the household's four-bucket policy
func DefaultPolicy() domain.BucketPolicy {
	d := decimal.RequireFromString
	return domain.BucketPolicy{
		ID:               1,
		Name:             "Household Policy",
		EffectiveDate:    time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		MaxSingleNamePct: d("0.15"),
		Buckets: []domain.Bucket{
			{Code: domain.BucketLiquidity, Name: "Liquidity", MinPct: d("0.05"), TargetPct: d("0.10"), MaxPct: d("0.20"), AllowedClasses: []string{"CASH", "MMF"}},
			{Code: domain.BucketIncome, Name: "Income", MinPct: d("0.20"), TargetPct: d("0.30"), MaxPct: d("0.45"), AllowedClasses: []string{"BOND", "CREDIT", "DIVIDEND"}},
			{Code: domain.BucketGrowth, Name: "Growth", MinPct: d("0.30"), TargetPct: d("0.45"), MaxPct: d("0.65"), AllowedClasses: []string{"EQUITY", "INDEX", "GROWTH"}},
			{Code: domain.BucketAlpha, Name: "Alpha", MinPct: d("0"), TargetPct: d("0.15"), MaxPct: d("0.25"), AllowedClasses: []string{"ALTERNATIVE", "THEMATIC", "ALPHA"}},
		},
	}
}

// SeedDefaultPolicy stores DefaultPolicy when no policy exists yet
func (r *Repository) SeedDefaultPolicy(ctx context.Context) (bool, error) {
	var n int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT count(*) FROM bucket_policies`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count policies: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := r.CreatePolicy(ctx, DefaultPolicy()); err != nil {
		return false, err
	}
	return true, nil
}

func splitClasses(s string) []string {
	out := []string{}
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
