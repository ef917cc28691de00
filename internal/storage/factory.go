package storage

import (
	"context"
	"fmt"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"

	"github.com/aws/aws-sdk-go/aws/session"
)

// New returns the Storage for cfg.Storage.Provider and a func releasing it.
func New(ctx context.Context, cfg *config.Config, sess *session.Session) (Storage, func() error, error) {
	switch cfg.Storage.Provider {
	case "s3":
		if sess == nil {
			return nil, nil, fmt.Errorf("s3 storage requires an AWS session")
		}
		return NewS3Storage(sess, cfg), func() error { return nil }, nil
	case "gcs":
		gcs, err := NewGCSStorage(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
}
