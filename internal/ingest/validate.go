package ingest

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"
)

const (
	maxSourceLocationBytes = 1024
	maxDescriptionBytes    = 1024
)

var submitterIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Validate checks a submission before any external call is made.
func Validate(req model.SubmitRequest) error {
	if req.SubmitterID == "" {
		return errors.ValidationError{Field: "submitter_id", Value: req.SubmitterID, Message: "is required"}
	}
	if !submitterIDPattern.MatchString(req.SubmitterID) {
		return errors.ValidationError{Field: "submitter_id", Value: req.SubmitterID,
			Message: "must be 1-64 letters, digits, '.', '_' or '-' and start with a letter or digit"}
	}

	if err := validateSourceLocation(req.SourceLocation); err != nil {
		return err
	}

	if len(req.Description) > maxDescriptionBytes {
		return errors.ValidationError{Field: "description", Value: len(req.Description), Message: "must be at most 1024 bytes"}
	}
	return nil
}

func validateSourceLocation(loc string) error {
	invalid := func(msg string) error {
		return errors.ValidationError{Field: "source_location", Value: loc, Message: msg}
	}

	switch {
	case strings.TrimSpace(loc) == "":
		return invalid("is required")
	case len(loc) > maxSourceLocationBytes:
		return invalid("must be at most 1024 bytes")
	case strings.HasPrefix(loc, "/"):
		return invalid("must be a key relative to the upload bucket")
	case strings.HasSuffix(loc, "/"):
		return invalid("must name a file, not a folder")
	case !strings.Contains(loc, "/"):
		// The import reads the whole folder of the key.
		return invalid("must be inside a folder")
	}

	for _, r := range loc {
		if unicode.IsControl(r) {
			return invalid("must not contain control characters")
		}
	}
	for _, segment := range strings.Split(loc, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return invalid("must not contain empty, '.' or '..' segments")
		}
	}
	return nil
}
