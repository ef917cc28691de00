package imaging

import (
	"bytes"
	"context"
	"io"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"
)

type fakeStore struct {
	bucket  string
	scheme  string
	objects map[string][]byte
	err     error
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, s.err
}

func (s *fakeStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.NewNotFoundError("object", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Bucket() string {
	return s.bucket
}

func (s *fakeStore) URI(key string) string {
	return s.scheme + "://" + s.bucket + "/" + key
}
