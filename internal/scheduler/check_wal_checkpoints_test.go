package scheduler

import (
	"testing"

	"github.com/aristath/bucketplan/internal/database"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCheckWALCheckpointsJob_Name(t *testing.T) {
	assert.Equal(t, "check_wal_checkpoints", NewCheckWALCheckpointsJob(zerolog.Nop()).Name())
}

func TestCheckWALCheckpointsJob_Run(t *testing.T) {
	portfolio, cleanupPortfolio := testingpkg.NewTestDB(t, database.NamePortfolio)
	t.Cleanup(cleanupPortfolio)
	ledger, cleanupLedger := testingpkg.NewTestDB(t, database.NameLedger)
	t.Cleanup(cleanupLedger)

	job := NewCheckWALCheckpointsJob(zerolog.Nop(), portfolio, nil, ledger)
	assert.NoError(t, job.Run(), "nil databases are skipped")
}
