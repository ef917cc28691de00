package storage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API

	HeadObjectFunc func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	GetObjectFunc  func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	return f.HeadObjectFunc(in)
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	return f.GetObjectFunc(in)
}

func s3Failure(code string, status int) error {
	return awserr.NewRequestFailure(awserr.New(code, code, nil), status, "req-id")
}

func TestS3Storage_Exists(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      bool
		wantErr   bool
		transient bool
	}{
		{name: "present", want: true},
		{name: "missing", err: s3Failure("NotFound", http.StatusNotFound), want: false},
		{name: "missing by status only", err: s3Failure("UnknownError", http.StatusNotFound), want: false},
		{name: "throttled", err: s3Failure("SlowDown", http.StatusServiceUnavailable), wantErr: true, transient: true},
		{name: "forbidden", err: s3Failure("Forbidden", http.StatusForbidden), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{HeadObjectFunc: func(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
				assert.Equal(t, "uploads", aws.StringValue(in.Bucket))
				assert.Equal(t, "a/b.dcm", aws.StringValue(in.Key))
				if tt.err != nil {
					return nil, tt.err
				}
				return &s3.HeadObjectOutput{}, nil
			}}
			s := NewS3StorageWithClient(fake, "uploads")

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

func TestS3Storage_Download(t *testing.T) {
	fake := &fakeS3{GetObjectFunc: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		if aws.StringValue(in.Key) == "missing" {
			return nil, s3Failure(s3.ErrCodeNoSuchKey, http.StatusNotFound)
		}
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil
	}}
	s := NewS3StorageWithClient(fake, "uploads")

	body, err := s.Download(context.Background(), "present")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "payload", string(data))

	_, err = s.Download(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestS3Storage_URI(t *testing.T) {
	s := NewS3StorageWithClient(&fakeS3{}, "uploads")
	assert.Equal(t, "uploads", s.Bucket())
	assert.Equal(t, "s3://uploads/dir/file.dcm", s.URI("dir/file.dcm"))
}
