// Package s3compat implements a Store for S3-compatible object storage such as
// MinIO, Ceph RGW or Garage, for deployments that do not run on AWS.
package s3compat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shineum/ses-forwarder-lite/internal/storage"
)

// StoreConfig holds the configuration for creating a Store.
type StoreConfig struct {
	Endpoint        string
	Secure          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MaxObjectSize   int64
}

// Store fetches objects through the minio-go client.
type Store struct {
	cl      *minio.Client
	maxSize int64
}

// New creates a Store for the given endpoint.
func New(cfg StoreConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3compat: endpoint not set")
	}

	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3compat: %w", err)
	}

	maxSize := cfg.MaxObjectSize
	if maxSize == 0 {
		maxSize = storage.DefaultMaxObjectSize
	}
	return &Store{cl: cl, maxSize: maxSize}, nil
}

// Fetch downloads the object at key.
func (s *Store) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.cl.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio GetObject %s/%s: %w", bucket, key, classify(err))
	}
	defer obj.Close()

	// minio-go defers the request until the first read, so API errors
	// surface here.
	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("minio GetObject %s/%s: %w", bucket, key, classify(err))
	}
	if s.maxSize > 0 && info.Size > s.maxSize {
		return nil, fmt.Errorf("minio object %s/%s: %w: %d bytes", bucket, key, storage.ErrTooLarge, info.Size)
	}

	data, err := storage.ReadLimited(obj, s.maxSize)
	if err != nil {
		return nil, fmt.Errorf("minio object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "s3compat"
}

func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	case resp.StatusCode == http.StatusForbidden, resp.Code == "AccessDenied":
		return fmt.Errorf("%w: %w", storage.ErrAccessDenied, err)
	default:
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	}
}
