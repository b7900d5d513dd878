package notify

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

// S3API is the subset of the S3 client the archive channel uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 archives each alert's HTML report as an object.
type S3 struct {
	cfg    S3Config
	client S3API
}

// NewS3 builds the channel with a client from the standard AWS credential chain,
// or static credentials when both keys are configured.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if !cfg.Enabled {
		return &S3{cfg: cfg}, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3WithClient(cfg, client), nil
}

// NewS3WithClient builds the channel around an existing client.
func NewS3WithClient(cfg S3Config, client S3API) *S3 {
	return &S3{cfg: cfg, client: client}
}

func (s *S3) Name() string  { return "s3" }
func (s *S3) Enabled() bool { return s.cfg.Enabled && s.client != nil }

// ObjectKey returns the key a report for ev is stored under:
// <prefix>/<YYYY>/<MM>/<DD>/<report name>.html
func (s *S3) ObjectKey(ev *monitoring.PerformanceEvent) string {
	day := ev.Timestamp.UTC().Format("2006/01/02")
	return path.Join(strings.Trim(s.cfg.Prefix, "/"), day, ReportName(ev)+".html")
}

// Send uploads the report.
func (s *S3) Send(ctx context.Context, ev *monitoring.PerformanceEvent, report []byte) error {
	if !s.Enabled() {
		return ErrChannelDisabled
	}
	key := s.ObjectKey(ev)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(report),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata: map[string]string{
			"endpoint":    ev.Endpoint,
			"fingerprint": ev.Fingerprint(),
		},
	})
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", s.cfg.Bucket, key, err)
	}
	log.Info().Str("bucket", s.cfg.Bucket).Str("key", key).Msg("s3: report archived")
	return nil
}

// TestConnection checks the bucket exists and is accessible.
func (s *S3) TestConnection(ctx context.Context) error {
	if !s.Enabled() {
		return ErrChannelDisabled
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("s3: head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
