package storage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestGCSStorage_Exists(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      bool
		wantErr   bool
		transient bool
	}{
		{name: "present", want: true},
		{name: "missing", err: gcs.ErrObjectNotExist},
		{name: "unavailable", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, wantErr: true, transient: true},
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := func(ctx context.Context, bucket, object string) (*gcs.ObjectAttrs, error) {
				assert.Equal(t, "uploads", bucket)
				assert.Equal(t, "a/b.dcm", object)
				if tt.err != nil {
					return nil, tt.err
				}
				return &gcs.ObjectAttrs{Bucket: bucket, Name: object}, nil
			}
			s := NewGCSStorageWithFuncs("uploads", attrs, nil)

			got, err := s.Exists(context.Background(), "a/b.dcm")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.transient, errors.IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGCSStorage_Download(t *testing.T) {
	reader := func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		if object == "missing" {
			return nil, gcs.ErrObjectNotExist
		}
		return io.NopCloser(strings.NewReader("payload")), nil
	}
	s := NewGCSStorageWithFuncs("uploads", nil, reader)

	body, err := s.Download(context.Background(), "present")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "payload", string(data))

	_, err = s.Download(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, "gs://uploads/dir/x.dcm", s.URI("dir/x.dcm"))
	assert.NoError(t, s.Close())
}
