package scheduler

import (
	"context"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
)

// StudyLister finds studies by status.
type StudyLister interface {
	ListByStatus(ctx context.Context, status model.StudyStatus) ([]*model.Study, error)
}

// Resume re-arms polling for a study that may have lost its poll chain. A
// study that already has a pending poll is left alone so its backoff state
// survives. It reports whether a new poll was scheduled.
func (s *Scheduler) Resume(ctx context.Context, studyID string) (bool, error) {
	if s.queue != nil {
		return s.queue.EnsurePoll(ctx, model.PollTask{StudyID: studyID, NotBefore: s.now()})
	}
	return s.spawn(studyID), nil
}

// Sweep resumes every IMPORTING study and returns how many got a new poll.
// It keeps going past per-study failures and returns the first one.
func (s *Scheduler) Sweep(ctx context.Context, lister StudyLister) (int, error) {
	studies, err := lister.ListByStatus(ctx, model.StudyStatusImporting)
	if err != nil {
		return 0, err
	}

	resumed := 0
	var firstErr error
	for _, study := range studies {
		ok, err := s.Resume(ctx, study.StudyID)
		if err != nil {
			s.log.Warn().Err(err).Str("study_id", study.StudyID).Msg("Failed to resume polling")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			resumed++
		}
	}

	s.log.Info().Int("importing", len(studies)).Int("resumed", resumed).Msg("Sweep finished")
	return resumed, firstErr
}

// RunSweeps sweeps once immediately and then every interval until ctx is
// done. A non-positive interval sweeps only once.
func (s *Scheduler) RunSweeps(ctx context.Context, lister StudyLister, interval time.Duration) {
	if _, err := s.Sweep(ctx, lister); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("Sweep failed")
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, lister); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}
