package storage

import (
	"context"
	"io"
	"net/http"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/awsclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

var _ Storage = (*S3Storage)(nil)

type S3Storage struct {
	client s3iface.S3API
	bucket string
}

func NewS3Storage(sess *session.Session, cfg *config.Config) *S3Storage {
	s3Config := aws.NewConfig()
	if cfg.Storage.S3.Endpoint != "" {
		s3Config = s3Config.
			WithEndpoint(cfg.Storage.S3.Endpoint).
			WithDisableSSL(!cfg.Storage.S3.UseSSL).
			WithS3ForcePathStyle(true)
	}

	return NewS3StorageWithClient(s3.New(sess, s3Config), cfg.Storage.S3.Bucket)
}

func NewS3StorageWithClient(client s3iface.S3API, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

func (s *S3Storage) URI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errors.NewNotFoundError(objectResource, s.URI(key))
		}
		return nil, awsclient.Classify(err, "s3 get object")
	}
	return result.Body, nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, awsclient.Classify(err, "s3 head object")
	}
	return true, nil
}

// HeadObject has no body, so a missing key surfaces as a bare 404 with code
// "NotFound" rather than NoSuchKey.
func isS3NotFound(err error) bool {
	switch awsclient.Code(err) {
	case "NotFound", s3.ErrCodeNoSuchKey:
		return true
	}
	return awsclient.StatusCode(err) == http.StatusNotFound
}
