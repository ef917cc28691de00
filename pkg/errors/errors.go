package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("dependency unavailable")
	ErrTimeout     = errors.New("timeout")
)

// Error codes shared by the HTTP layer and metric labels.
const (
	CodeInvalid     = "invalid"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeUnavailable = "unavailable"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
)

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NewNotFoundError(resource, id string) error {
	return NotFoundError{Resource: resource, ID: id}
}

type ConflictError struct {
	Resource string
	ID       string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.ID)
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func NewConflictError(resource, id string) error {
	return ConflictError{Resource: resource, ID: id}
}

// TransientError marks a failure of an external dependency (timeout,
// throttling, connectivity) that is worth retrying.
type TransientError struct {
	Err     error
	Message string
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient error: %s - %s", e.Message, e.Err.Error())
}

func (e TransientError) Unwrap() error {
	return e.Err
}

func NewTransientError(err error, message string) error {
	return TransientError{
		Err:     err,
		Message: message,
	}
}

// TimeoutError is the terminal error recorded when a study exceeds its
// polling deadline.
type TimeoutError struct {
	StudyID string
	Elapsed time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("study %s did not finish importing within %s", e.StudyID, e.Elapsed.Round(time.Second))
}

func (e TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransient reports whether err is worth retrying. Context deadline errors
// from a bounded external call count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Code returns the stable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return CodeInvalid
	case IsNotFound(err):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	case IsTimeout(err):
		return CodeTimeout
	case IsTransient(err):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

var statusCodes = map[string]int{
	CodeInvalid:     http.StatusBadRequest,
	CodeNotFound:    http.StatusNotFound,
	CodeConflict:    http.StatusConflict,
	CodeUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:     http.StatusGatewayTimeout,
	CodeInternal:    http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status associated with err.
func HTTPStatus(err error) int {
	if v, ok := statusCodes[Code(err)]; ok {
		return v
	}
	return http.StatusInternalServerError
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
