// Package s3 implements a Store that reads messages from Amazon S3, where SES
// receipt rules deposit inbound mail.
package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/ses-forwarder-lite/internal/storage"
)

// StoreConfig holds the configuration for creating a Store.
type StoreConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the S3 endpoint, e.g. for local testing. Path-style
	// addressing is used when it is set.
	Endpoint string

	MaxObjectSize int64
}

// GetObjectAPI is the subset of the S3 client used by Store.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Store fetches objects through the AWS S3 API.
type Store struct {
	client  GetObjectAPI
	maxSize int64
}

// New creates a Store using the default AWS credential chain unless static
// keys are configured.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

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
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg.MaxObjectSize), nil
}

// NewWithClient creates a Store with a custom client, used for testing.
func NewWithClient(client GetObjectAPI, maxSize int64) *Store {
	if maxSize == 0 {
		maxSize = storage.DefaultMaxObjectSize
	}
	return &Store{client: client, maxSize: maxSize}
}

// Fetch downloads the object at key.
func (s *Store) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 GetObject %s/%s: %w", bucket, key, classify(err))
	}
	defer out.Body.Close()

	if out.ContentLength != nil && s.maxSize > 0 && *out.ContentLength > s.maxSize {
		return nil, fmt.Errorf("s3 object %s/%s: %w: %d bytes", bucket, key, storage.ErrTooLarge, *out.ContentLength)
	}

	data, err := storage.ReadLimited(out.Body, s.maxSize)
	if err != nil {
		return nil, fmt.Errorf("s3 object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "s3"
}

// classify maps an S3 API error onto the storage error kinds, keeping the
// original error in the chain.
func classify(err error) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %w", storage.ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("%w: %w", storage.ErrTransient, err)
}
