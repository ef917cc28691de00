package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/gcpclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	gcs "cloud.google.com/go/storage"
)

var _ Storage = (*GCSStorage)(nil)

type AttrsFunc func(ctx context.Context, bucket, object string) (*gcs.ObjectAttrs, error)

type NewReaderFunc func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// GCSStorage reads from a Cloud Storage bucket. The client calls sit behind
// function fields so tests can swap them out.
type GCSStorage struct {
	Client    *gcs.Client
	Attrs     AttrsFunc
	NewReader NewReaderFunc
	bucket    string
}

func NewGCSStorage(ctx context.Context, cfg *config.Config) (*GCSStorage, error) {
	opts, err := gcpclient.ClientOptions(ctx, cfg.Storage.GCS.CredentialsFile)
	if err != nil {
		return nil, err
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}

	return &GCSStorage{
		Client: client,
		Attrs: func(ctx context.Context, bucket, object string) (*gcs.ObjectAttrs, error) {
			return client.Bucket(bucket).Object(object).Attrs(ctx)
		},
		NewReader: func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
			return client.Bucket(bucket).Object(object).NewReader(ctx)
		},
		bucket: cfg.Storage.GCS.Bucket,
	}, nil
}

// NewGCSStorageWithFuncs builds a GCSStorage without a live client.
func NewGCSStorageWithFuncs(bucket string, attrs AttrsFunc, reader NewReaderFunc) *GCSStorage {
	return &GCSStorage{Attrs: attrs, NewReader: reader, bucket: bucket}
}

func (s *GCSStorage) Bucket() string {
	return s.bucket
}

func (s *GCSStorage) URI(key string) string {
	return "gs://" + s.bucket + "/" + key
}

func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Attrs(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, gcpclient.Classify(err, "gcs object attrs")
	}
	return true, nil
}

func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.NewReader(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, errors.NewNotFoundError(objectResource, s.URI(key))
		}
		return nil, gcpclient.Classify(err, "gcs new reader")
	}
	return r, nil
}

func (s *GCSStorage) Close() error {
	if s.Client == nil {
		return nil
	}
	return s.Client.Close()
}
