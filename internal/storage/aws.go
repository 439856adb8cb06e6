package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// ObjectPutter is the subset of the S3 client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes batches of abuse events to S3 as gzipped JSON lines.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

var _ EventArchive = (*S3Archive)(nil)

// NewS3Archive builds an archive from config. Static keys win over a named
// profile; with neither the default credential chain is used.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	case cfg.GetAWSProfile() != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.GetAWSProfile()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3ArchiveWithClient(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3ArchiveWithClient wraps an existing client.
func NewS3ArchiveWithClient(client ObjectPutter, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Bucket returns the archive bucket name.
func (a *S3Archive) Bucket() string { return a.bucket }

type bucketHeader interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// HeadBucket lets the archive serve as its own health probe.
func (a *S3Archive) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	h, ok := a.client.(bucketHeader)
	if !ok {
		return nil, fmt.Errorf("archive client cannot head buckets")
	}
	return h.HeadBucket(ctx, params, optFns...)
}

// ArchiveEvents uploads events as one object and returns its key. An empty
// batch uploads nothing.
func (a *S3Archive) ArchiveEvents(ctx context.Context, events []domain.AbuseEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	body, err := encodeJSONL(events)
	if err != nil {
		return "", err
	}

	now := a.now().UTC()
	key := path.Join(a.prefix, now.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.jsonl.gz", now.Format("150405"), uuid.NewString()))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"event-count": fmt.Sprintf("%d", len(events)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}

	logger.Info("archived abuse events", "bucket", a.bucket, "key", key, "count", len(events))
	return key, nil
}

func encodeJSONL(events []domain.AbuseEvent) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(events[i]); err != nil {
			return nil, fmt.Errorf("encoding event %s: %w", events[i].ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compressing archive: %w", err)
	}
	return buf.Bytes(), nil
}
