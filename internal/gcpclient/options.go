package gcpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ClientOptions returns the options shared by the GCP clients. A credentials
// file wins over application default credentials.
func ClientOptions(ctx context.Context, credentialsFile string) ([]option.ClientOption, error) {
	if credentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("google.FindDefaultCredentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// Classify wraps err as a TransientError for throttling and server errors.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return errors.NewTransientError(err, message)
	}
	return err
}

func IsTransient(err error) bool {
	if code := StatusCode(err); code == http.StatusTooManyRequests || code >= 500 {
		return true
	}
	return errors.IsTransient(err)
}

// StatusCode returns the HTTP status of a googleapi error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
