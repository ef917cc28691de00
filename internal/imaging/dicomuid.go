package imaging

import (
	"context"
	"strings"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// maxDicomBytes bounds the parser; reading stops at the study uid, long
// before pixel data.
const maxDicomBytes = 1 << 40

// readStudyUID returns the StudyInstanceUID of the DICOM object at key.
func readStudyUID(ctx context.Context, store storage.Storage, key string) (string, error) {
	r, err := store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()

	unreadable := errors.ValidationError{Field: "source_location", Value: key, Message: "is not a readable DICOM file"}

	p, err := dicom.NewParser(r, maxDicomBytes, nil)
	if err != nil {
		return "", unreadable
	}
	for {
		el, err := p.Next()
		if err != nil {
			return "", unreadable
		}
		if el.Tag != tag.StudyInstanceUID {
			continue
		}
		values, ok := el.Value.GetValue().([]string)
		if !ok || len(values) == 0 {
			return "", unreadable
		}
		uid := strings.TrimRight(values[0], "\x00 ")
		if uid == "" {
			return "", unreadable
		}
		return uid, nil
	}
}
