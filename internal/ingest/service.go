package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/imaging"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/metrics"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/storage"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	studyIDPrefix   = "STUDY-"
	acceptedMessage = "DICOM ingestion started"
	rejectedMessage = "DICOM ingestion could not be started"
)

// PollTrigger arranges the first poll of a new study.
type PollTrigger interface {
	SchedulePoll(ctx context.Context, studyID string) error
}

// NewStudyID returns "STUDY-" followed by the 32 hex digits of a random
// (version 4) UUID, 122 bits of randomness.
func NewStudyID() string {
	return studyIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type Service struct {
	repo    db.Repository
	store   storage.Storage
	jobs    imaging.JobService
	trigger PollTrigger

	callTimeout   time.Duration
	retryAttempts int
	retryDelay    time.Duration

	newID func() string
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(cfg config.IngestionConfig, repo db.Repository, store storage.Storage, jobs imaging.JobService, trigger PollTrigger) *Service {
	attempts := cfg.StartRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Service{
		repo:          repo,
		store:         store,
		jobs:          jobs,
		trigger:       trigger,
		callTimeout:   cfg.CallTimeout(),
		retryAttempts: attempts,
		retryDelay:    cfg.StartRetryDelay,
		newID:         NewStudyID,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger.For("ingest"),
	}
}

// Submit validates req, checks the artifact exists, starts the import job,
// records the study and schedules its first poll.
//
// Validation and missing-artifact errors are returned before anything is
// written. Once the job start has been attempted, failures are recorded on a
// FAILED study and reported through the response status, not as an error.
func (s *Service) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResponse, error) {
	if err := Validate(req); err != nil {
		metrics.Submissions.WithLabelValues(errors.CodeInvalid).Inc()
		return nil, err
	}

	log := s.log.With().Str("submitter_id", req.SubmitterID).Str("source_location", req.SourceLocation).Logger()

	var exists bool
	err := s.retry(ctx, "check source object", func(ctx context.Context) error {
		var err error
		exists, err = s.store.Exists(ctx, req.SourceLocation)
		return err
	})
	if err != nil {
		metrics.Submissions.WithLabelValues(errors.Code(err)).Inc()
		if errors.IsTransient(err) {
			log.Warn().Err(err).Msg("Object store unavailable")
			return nil, fmt.Errorf("check source object: %w", errors.ErrUnavailable)
		}
		return nil, err
	}
	if !exists {
		metrics.Submissions.WithLabelValues(errors.CodeNotFound).Inc()
		return nil, errors.NewNotFoundError("source object", s.store.URI(req.SourceLocation))
	}

	now := s.now()
	study := &model.Study{
		StudyID:         s.newID(),
		SubmitterID:     req.SubmitterID,
		SubmittedAt:     now,
		Description:     req.Description,
		SourceLocation:  req.SourceLocation,
		SourceBucket:    s.store.Bucket(),
		DatastoreID:     s.jobs.Target(),
		Status:          model.StudyStatusSubmitted,
		ProcessingStage: model.ProcessingStageIngestion,
		UpdatedAt:       now,
	}
	log = log.With().Str("study_id", study.StudyID).Logger()

	var jobID string
	startErr := s.retry(ctx, "start import job", func(ctx context.Context) error {
		var err error
		jobID, err = s.jobs.Start(ctx, model.StartJobRequest{StudyID: study.StudyID, SourceLocation: req.SourceLocation})
		return err
	})

	// A started job must end up recorded and polled even if the caller
	// goes away now.
	ctx = context.WithoutCancel(ctx)

	if startErr != nil {
		log.Error().Err(startErr).Msg("Failed to start import job")
		study.Status = model.StudyStatusFailed
		study.LastError = startErr.Error()
	} else {
		study.Status = model.StudyStatusImporting
		study.JobID = jobID
	}

	if err := s.create(ctx, study); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to record study")
		metrics.Submissions.WithLabelValues(errors.Code(err)).Inc()
		return nil, err
	}

	if startErr != nil {
		metrics.Submissions.WithLabelValues("start_failed").Inc()
		metrics.TerminalTransitions.WithLabelValues(string(model.StudyStatusFailed)).Inc()
		return &model.SubmitResponse{StudyID: study.StudyID, Status: study.Status, Message: rejectedMessage}, nil
	}

	log = log.With().Str("job_id", jobID).Logger()

	err = s.retry(ctx, "schedule first poll", func(ctx context.Context) error {
		return s.trigger.SchedulePoll(ctx, study.StudyID)
	})
	if err != nil {
		return s.abandon(ctx, log, study, err)
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	log.Info().Msg("Study submitted")

	return &model.SubmitResponse{
		StudyID: study.StudyID,
		JobID:   study.JobID,
		Status:  study.Status,
		Message: acceptedMessage,
	}, nil
}

// create stores the study. A conflict after a retried write is accepted when
// the stored record is the one this call wrote.
func (s *Service) create(ctx context.Context, study *model.Study) error {
	var attempted bool
	return s.retry(ctx, "create study", func(ctx context.Context) error {
		err := s.repo.Create(ctx, study)
		if errors.IsConflict(err) && attempted {
			stored, getErr := s.repo.Get(ctx, study.StudyID)
			if getErr == nil && stored.JobID == study.JobID && stored.SubmittedAt.Equal(study.SubmittedAt) {
				return nil
			}
		}
		attempted = true
		return err
	})
}

// abandon marks a study FAILED when its first poll could not be scheduled, so
// that no IMPORTING record is left without anything polling it.
func (s *Service) abandon(ctx context.Context, log zerolog.Logger, study *model.Study, cause error) (*model.SubmitResponse, error) {
	log.Error().Err(cause).Msg("Failed to schedule first poll")

	reason := "poll scheduling failed: " + cause.Error()
	var ok bool
	err := s.retry(ctx, "mark study failed", func(ctx context.Context) error {
		var err error
		ok, err = s.repo.ConditionalUpdate(ctx, study.StudyID, model.StudyStatusImporting, model.StudyUpdate{
			Status:    model.StatusPtr(model.StudyStatusFailed),
			LastError: model.StringPtr(reason),
		})
		return err
	})
	if err != nil {
		metrics.Submissions.WithLabelValues(errors.Code(err)).Inc()
		return nil, fmt.Errorf("schedule first poll: %w", errors.ErrUnavailable)
	}

	metrics.Submissions.WithLabelValues("schedule_failed").Inc()
	if ok {
		metrics.TerminalTransitions.WithLabelValues(string(model.StudyStatusFailed)).Inc()
		study.Status = model.StudyStatusFailed
		study.LastError = reason
	} else if current, err := s.repo.Get(ctx, study.StudyID); err == nil {
		study = current
	}

	return &model.SubmitResponse{
		StudyID: study.StudyID,
		JobID:   study.JobID,
		Status:  study.Status,
		Message: rejectedMessage,
	}, nil
}

// retry runs fn up to retryAttempts times, each bounded by callTimeout,
// retrying only transient errors with a linearly growing delay.
func (s *Service) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) {
			return err
		}

		lastErr = err
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Transient failure, retrying")
	}
	return lastErr
}
