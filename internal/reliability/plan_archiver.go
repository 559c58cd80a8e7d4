// Package reliability copies finalized plans to S3-compatible object storage.
package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader is the subset of the S3 upload manager the archiver needs
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// PlanArchiver uploads finalized plans as JSON objects keyed by month and ID
type PlanArchiver struct {
	uploader Uploader
	bucket   string
	log      zerolog.Logger
}

// NewPlanArchiver creates an archiver over an existing uploader
func NewPlanArchiver(uploader Uploader, bucket string, log zerolog.Logger) *PlanArchiver {
	return &PlanArchiver{
		uploader: uploader,
		bucket:   bucket,
		log:      log.With().Str("service", "plan_archive").Logger(),
	}
}

// NewS3PlanArchiver builds an S3 client from static credentials. A custom
// endpoint (R2, MinIO) switches to path-style addressing.
func NewS3PlanArchiver(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (*PlanArchiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewPlanArchiver(manager.NewUploader(client), cfg.Bucket, log), nil
}

// ObjectKey returns the archive key of a plan
func ObjectKey(plan domain.Plan) string {
	return fmt.Sprintf("plans/%s/%s.json", plan.CreatedAt.UTC().Format("2006/01"), plan.ID)
}

// Archive uploads one plan. Only FINAL plans are accepted.
func (a *PlanArchiver) Archive(ctx context.Context, plan domain.Plan) error {
	if plan.Status != domain.PlanFinal {
		return fmt.Errorf("plan %s is %s; only final plans are archived", plan.ID, plan.Status)
	}
	body, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", plan.ID, err)
	}

	key := ObjectKey(plan)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"outputs-digest": plan.OutputsDigest,
			"actor":          plan.Actor,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload plan %s: %w", plan.ID, err)
	}

	a.log.Info().
		Str("plan_id", plan.ID).
		Str("bucket", a.bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Msg("Plan archived")
	return nil
}
