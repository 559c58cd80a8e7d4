package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, database.NamePortfolio)
	t.Cleanup(cleanup)
	return NewRepository(db, zerolog.Nop())
}

func TestSeedDefaultPolicy(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	seeded, err := repo.SeedDefaultPolicy(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)
	seeded, err = repo.SeedDefaultPolicy(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	policies, err := repo.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	got, want := policies[0], DefaultPolicy()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.EffectiveDate, got.EffectiveDate)
	assert.True(t, got.MaxSingleNamePct.Equal(want.MaxSingleNamePct))
	require.Len(t, got.Buckets, 4)
	for i, b := range got.Buckets {
		assert.Equal(t, want.Buckets[i].Code, b.Code)
		assert.True(t, b.MinPct.Equal(want.Buckets[i].MinPct), b.Code)
		assert.True(t, b.TargetPct.Equal(want.Buckets[i].TargetPct), b.Code)
		assert.True(t, b.MaxPct.Equal(want.Buckets[i].MaxPct), b.Code)
		assert.Equal(t, want.Buckets[i].AllowedClasses, b.AllowedClasses)
	}
}

func TestPolicyVersions_ActiveResolution(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.CreatePolicy(ctx, DefaultPolicy())
	require.NoError(t, err)
	v2 := DefaultPolicy()
	v2.ID = 0
	v2.Name = "Household Policy 2025"
	v2.EffectiveDate = testingpkg.Date(2025, time.January, 1)
	id, err := repo.CreatePolicy(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	policies, err := repo.Policies(ctx)
	require.NoError(t, err)

	active, err := domain.ActivePolicy(policies, testingpkg.Date(2024, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.ID)

	active, err = domain.ActivePolicy(policies, testingpkg.Date(2025, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.ID)
}

func TestCreatePolicy_RejectsInvalid(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	bad := DefaultPolicy()
	bad.Buckets = bad.Buckets[:3]
	_, err := repo.CreatePolicy(ctx, bad)
	assert.True(t, errors.Is(err, domain.ErrInvalidPolicy))

	unnamed := DefaultPolicy()
	unnamed.Name = " "
	_, err = repo.CreatePolicy(ctx, unnamed)
	assert.True(t, errors.Is(err, domain.ErrInvalidPolicy))

	policies, err := repo.Policies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestAssignments(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.SeedDefaultPolicy(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Assign(ctx, domain.BucketAssignment{PolicyID: 1, Ticker: "VTI", Bucket: domain.BucketGrowth}))
	require.NoError(t, repo.Assign(ctx, domain.BucketAssignment{PolicyID: 1, Ticker: "BND", Bucket: domain.BucketGrowth}))
	require.NoError(t, repo.Assign(ctx, domain.BucketAssignment{PolicyID: 1, Ticker: "BND", Bucket: domain.BucketIncome}))

	assignments, err := repo.Assignments(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.BucketAssignment{
		{PolicyID: 1, Ticker: "BND", Bucket: domain.BucketIncome},
		{PolicyID: 1, Ticker: "VTI", Bucket: domain.BucketGrowth},
	}, assignments)

	other, err := repo.Assignments(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.True(t, errors.Is(repo.Assign(ctx, domain.BucketAssignment{PolicyID: 1, Ticker: "X", Bucket: "B9"}), domain.ErrInvalidPolicy))
	assert.Error(t, repo.Assign(ctx, domain.BucketAssignment{PolicyID: 7, Ticker: "X", Bucket: domain.BucketAlpha}), "unknown policy")
}
