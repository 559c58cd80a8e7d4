package reliability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{Key: input.Key}, nil
}

func finalPlan() domain.Plan {
	return domain.Plan{
		ID:            "4f1c",
		CreatedAt:     time.Date(2025, time.June, 30, 18, 0, 0, 0, time.UTC),
		Actor:         "trustee",
		Status:        domain.PlanFinal,
		OutputsDigest: "abc123",
	}
}

func TestArchive_UploadsFinalPlan(t *testing.T) {
	up := &fakeUploader{}
	archiver := NewPlanArchiver(up, "plans-bucket", zerolog.Nop())

	require.NoError(t, archiver.Archive(context.Background(), finalPlan()))

	require.Len(t, up.inputs, 1)
	in := up.inputs[0]
	assert.Equal(t, "plans-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "plans/2025/06/4f1c.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "abc123", in.Metadata["outputs-digest"])

	var decoded domain.Plan
	require.NoError(t, json.Unmarshal(up.bodies[0], &decoded))
	assert.Equal(t, "4f1c", decoded.ID)
	assert.Equal(t, domain.PlanFinal, decoded.Status)
}

func TestArchive_RejectsDrafts(t *testing.T) {
	up := &fakeUploader{}
	plan := finalPlan()
	plan.Status = domain.PlanDraft

	err := NewPlanArchiver(up, "b", zerolog.Nop()).Archive(context.Background(), plan)
	require.Error(t, err)
	assert.Empty(t, up.inputs)
}

func TestArchive_WrapsUploadErrors(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}

	err := NewPlanArchiver(up, "b", zerolog.Nop()).Archive(context.Background(), finalPlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3PlanArchiver(t *testing.T) {
	archiver, err := NewS3PlanArchiver(context.Background(), config.ArchiveConfig{
		Enabled:         true,
		Bucket:          "plans",
		Endpoint:        "https://example.r2.cloudflarestorage.com",
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "plans", archiver.bucket)
	assert.NotNil(t, archiver.uploader)
}
