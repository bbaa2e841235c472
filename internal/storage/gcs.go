package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig holds the configuration for Google Cloud Storage access.
type GCSConfig struct {
	// Anonymous skips credential lookup, for public buckets.
	Anonymous bool
	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string
}

// GCSStore implements ObjectStore on Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore creates a new GCSStore.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Get implements ObjectStore.
func (s *GCSStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("get from GCS: %w", err)
	}
	return r, nil
}

// Put implements ObjectStore.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, data io.Reader) (string, error) {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload to GCS: %w", err)
	}
	return Location{Scheme: SchemeGS, Bucket: bucket, Key: key}.String(), nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
