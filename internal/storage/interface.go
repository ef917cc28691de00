package storage

import (
	"context"
	"io"
)

// Storage reads objects from the upload bucket.
type Storage interface {
	// Exists reports whether key is present. Missing objects are (false, nil);
	// failures to reach the store are returned as transient errors.
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
	// URI returns the provider URI of key, e.g. s3://bucket/key.
	URI(key string) string
}

const objectResource = "object"
