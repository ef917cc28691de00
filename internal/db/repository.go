package db

import (
	"context"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
)

// Repository is the metadata store for studies. Every mutation after Create
// goes through ConditionalUpdate so that concurrent pollers never need a lock.
type Repository interface {
	// Create inserts a new study. It fails with a ConflictError when the
	// study id is already taken.
	Create(ctx context.Context, study *model.Study) error
	// Get fails with a NotFoundError when the study does not exist.
	Get(ctx context.Context, studyID string) (*model.Study, error)
	// ConditionalUpdate applies upd only while the stored status equals
	// expected. A rejected precondition returns false and no error.
	ConditionalUpdate(ctx context.Context, studyID string, expected model.StudyStatus, upd model.StudyUpdate) (bool, error)
	// ListBySubmitter returns studies of one submitter submitted at or after
	// since, newest first.
	ListBySubmitter(ctx context.Context, submitterID string, since time.Time, limit int) ([]*model.Study, error)
	// ListByStatus returns every study currently in status, oldest first.
	ListByStatus(ctx context.Context, status model.StudyStatus) ([]*model.Study, error)
}

const studyResource = "study"

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
