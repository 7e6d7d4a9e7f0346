package retention

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	sc "github.com/dmitrijs2005/storeauth/internal/server/config"
)

// Archiver stores a batch of serialized audit rows under key.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Test seams.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, endpoint string) s3PutAPI {
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
)

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes archive objects to an S3-compatible bucket (MinIO in
// development).
type S3Archiver struct {
	bucket string
	client s3PutAPI
}

func NewS3Archiver(ctx context.Context, c *sc.Config) (*S3Archiver, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(c.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3RootUser,
			c.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}
	return &S3Archiver{bucket: c.S3Bucket, client: newS3ClientFromConfig(cfg, c.S3BaseEndpoint)}, nil
}

func (a *S3Archiver) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive put %s: %w", key, err)
	}
	return nil
}

// ArchiveKey returns a unique object key partitioned by the day of t.
func ArchiveKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("audit/%d/%02d/%02d/%v.jsonl", t.Year(), t.Month(), t.Day(), uuid.New())
}
