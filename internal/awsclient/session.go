package awsclient

import (
	"net/http"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
)

// NewSession builds the shared AWS session. Static keys are used when
// configured, otherwise the default credential chain applies.
func NewSession(cfg *config.Config) (*session.Session, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AWS.AccessKey, cfg.AWS.SecretKey, "")
	}

	return session.NewSession(awsConfig)
}

// Classify wraps err as a TransientError when AWS marks it retryable or
// throttled. Other errors come back unchanged.
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
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		if aerr.Code() == request.CanceledErrorCode {
			return true
		}
		if request.IsErrorRetryable(aerr) || request.IsErrorThrottle(aerr) {
			return true
		}
	}
	if status := StatusCode(err); status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	return errors.IsTransient(err)
}

// Code returns the AWS error code of err, or "".
func Code(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

// StatusCode returns the HTTP status of a failed AWS request, or 0.
func StatusCode(err error) int {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode()
	}
	return 0
}
