package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps studies in process memory. Each operation holds the
// lock for its whole read-modify-write, which gives the same single-record
// atomicity the durable stores provide.
type MemoryRepository struct {
	mu      sync.Mutex
	studies map[string]model.Study
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		studies: make(map[string]model.Study),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(ctx context.Context, study *model.Study) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.studies[study.StudyID]; exists {
		return errors.NewConflictError(studyResource, study.StudyID)
	}
	r.studies[study.StudyID] = *study
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, studyID string) (*model.Study, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	study, ok := r.studies[studyID]
	if !ok {
		return nil, errors.NewNotFoundError(studyResource, studyID)
	}
	return &study, nil
}

func (r *MemoryRepository) ConditionalUpdate(ctx context.Context, studyID string, expected model.StudyStatus, upd model.StudyUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	study, ok := r.studies[studyID]
	if !ok || study.Status != expected {
		return false, nil
	}
	upd.Apply(&study, r.now())
	r.studies[studyID] = study
	return true, nil
}

func (r *MemoryRepository) ListBySubmitter(ctx context.Context, submitterID string, since time.Time, limit int) ([]*model.Study, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var studies []*model.Study
	for _, s := range r.studies {
		if s.SubmitterID != submitterID || s.SubmittedAt.Before(since) {
			continue
		}
		study := s
		studies = append(studies, &study)
	}

	sort.Slice(studies, func(i, j int) bool {
		return studies[i].SubmittedAt.After(studies[j].SubmittedAt)
	})

	if limit = normalizeLimit(limit); len(studies) > limit {
		studies = studies[:limit]
	}
	return studies, nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status model.StudyStatus) ([]*model.Study, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var studies []*model.Study
	for _, s := range r.studies {
		if s.Status != status {
			continue
		}
		study := s
		studies = append(studies, &study)
	}

	sort.Slice(studies, func(i, j int) bool {
		return studies[i].SubmittedAt.Before(studies[j].SubmittedAt)
	})
	return studies, nil
}
