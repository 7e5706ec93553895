// Package s3archive implements the BaselineArchive port on an S3-compatible
// object store.
package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BaselineArchive = (*Archive)(nil)

// Config holds the settings needed to connect to an S3-compatible store.
type Config struct {
	Endpoint  string // custom endpoint URL (e.g. http://localhost:9000); empty for AWS
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Archive wraps an S3 client scoped to a single bucket.
type Archive struct {
	s3     *s3.Client
	bucket string
	logger *slog.Logger
}

// New creates an Archive from the given Config. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archive{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// PutManifest uploads a JSON manifest under key.
func (a *Archive) PutManifest(ctx context.Context, key string, manifest []byte) error {
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         aws.String(key),
		Body:        bytes.NewReader(manifest),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put manifest %s: %w", key, err)
	}

	a.logger.Debug("baseline manifest archived", "bucket", a.bucket, "key", key, "bytes", len(manifest))
	return nil
}
