package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/db"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/imaging"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/metrics"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/rs/zerolog"
)

type Outcome string

const (
	OutcomeInProgress Outcome = "in-progress"
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeTransient  Outcome = "transient"
	// OutcomeNoop means the study was already terminal and nothing was written.
	OutcomeNoop Outcome = "noop"
	// OutcomeLostRace means a concurrent invocation changed the study first.
	OutcomeLostRace Outcome = "lost-race"
	OutcomeExpired  Outcome = "expired"
)

type Result struct {
	Study   *model.Study
	Outcome Outcome
}

const defaultOperatorReason = "marked failed by operator"

// Monitor advances a study from IMPORTING to a terminal status. It holds no
// state between calls: every write is a conditional update expecting
// IMPORTING, so any number of monitors may poll the same study at once.
type Monitor struct {
	repo        db.Repository
	jobs        imaging.JobService
	callTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func New(repo db.Repository, jobs imaging.JobService, callTimeout time.Duration) *Monitor {
	return &Monitor{
		repo:        repo,
		jobs:        jobs,
		callTimeout: callTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.For("monitor"),
	}
}

// Poll checks the import job of one study and records what it finds.
//
// A missing study is returned as a NotFoundError. A failed status query is
// recorded on the study and returned as a TransientError along with the
// study. Losing a conditional write to another poller is not an error.
func (m *Monitor) Poll(ctx context.Context, studyID string) (*Result, error) {
	study, err := m.load(ctx, studyID)
	if err != nil {
		return nil, err
	}

	log := m.log.With().Str("study_id", studyID).Str("job_id", study.JobID).Logger()

	if study.Status != model.StudyStatusImporting {
		if !study.Status.IsTerminal() {
			log.Warn().Str("status", string(study.Status)).Msg("Study is not importing, skipping poll")
		}
		return m.finish(&Result{Study: study, Outcome: OutcomeNoop}), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	status, err := m.jobs.Status(callCtx, study.JobID)
	cancel()
	if err == nil && status.State == model.JobStateSucceeded && status.ResultReference == "" {
		err = fmt.Errorf("job reported success without a result reference")
	}
	if err != nil {
		return m.recordTransient(ctx, log, study, err)
	}

	var upd model.StudyUpdate
	var outcome Outcome

	switch status.State {
	case model.JobStateInProgress:
		outcome = OutcomeInProgress
		upd = model.StudyUpdate{
			ImportStatus:      model.StringPtr(status.ExternalStatus),
			IncrementAttempts: true,
		}
	case model.JobStateSucceeded:
		outcome = OutcomeSucceeded
		upd = model.StudyUpdate{
			Status:            model.StatusPtr(model.StudyStatusReadyForAnalysis),
			ImportStatus:      model.StringPtr(status.ExternalStatus),
			ResultReference:   model.StringPtr(status.ResultReference),
			IncrementAttempts: true,
		}
	case model.JobStateFailed:
		outcome = OutcomeFailed
		upd = model.StudyUpdate{
			Status:            model.StatusPtr(model.StudyStatusFailed),
			ImportStatus:      model.StringPtr(status.ExternalStatus),
			LastError:         model.StringPtr(status.Reason),
			IncrementAttempts: true,
		}
	default:
		return m.recordTransient(ctx, log, study, fmt.Errorf("unknown job state %q", status.State))
	}

	res, err := m.apply(ctx, study, upd, outcome)
	if err != nil {
		log.Warn().Err(err).Str("outcome", string(outcome)).Msg("Failed to record poll result")
		return m.finish(&Result{Study: study, Outcome: OutcomeTransient}), errors.NewTransientError(err, "record poll result")
	}

	switch res.Outcome {
	case OutcomeInProgress:
		log.Debug().Str("import_status", status.ExternalStatus).Int("attempt_count", res.Study.AttemptCount).Msg("Import in progress")
	case OutcomeSucceeded:
		log.Info().Str("result_reference", status.ResultReference).Msg("Study ready for analysis")
	case OutcomeFailed:
		log.Info().Str("reason", status.Reason).Msg("Import failed")
	}
	return m.finish(res), nil
}

// Expire forces a study that outlived its polling budget to FAILED with
// last_error "timeout".
func (m *Monitor) Expire(ctx context.Context, studyID string, elapsed time.Duration) (*Result, error) {
	study, err := m.load(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if study.Status != model.StudyStatusImporting {
		return m.finish(&Result{Study: study, Outcome: OutcomeNoop}), nil
	}

	res, err := m.apply(ctx, study, model.StudyUpdate{
		Status:    model.StatusPtr(model.StudyStatusFailed),
		LastError: model.StringPtr(model.LastErrorTimeout),
	}, OutcomeExpired)
	if err != nil {
		return nil, errors.NewTransientError(err, "record timeout")
	}

	if res.Outcome == OutcomeExpired {
		m.log.Warn().
			Str("study_id", studyID).
			Str("job_id", study.JobID).
			Dur("elapsed", elapsed).
			Err(errors.TimeoutError{StudyID: studyID, Elapsed: elapsed}).
			Msg("Study timed out")
	}
	return m.finish(res), nil
}

// MarkFailed is the operator's way to stop an import. It is an ordinary
// IMPORTING to FAILED transition; a terminal study is left untouched and
// reported as a no-op.
func (m *Monitor) MarkFailed(ctx context.Context, studyID, reason string) (*Result, error) {
	if reason == "" {
		reason = defaultOperatorReason
	}

	study, err := m.load(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if study.Status != model.StudyStatusImporting {
		return &Result{Study: study, Outcome: OutcomeNoop}, nil
	}

	res, err := m.apply(ctx, study, model.StudyUpdate{
		Status:    model.StatusPtr(model.StudyStatusFailed),
		LastError: model.StringPtr(reason),
	}, OutcomeFailed)
	if err != nil {
		return nil, errors.NewTransientError(err, "mark study failed")
	}

	if res.Outcome == OutcomeFailed {
		m.log.Info().Str("study_id", studyID).Str("reason", reason).Msg("Study marked failed by operator")
	}
	return res, nil
}

func (m *Monitor) recordTransient(ctx context.Context, log zerolog.Logger, study *model.Study, cause error) (*Result, error) {
	log.Warn().Err(cause).Int("attempt_count", study.AttemptCount+1).Msg("Job status query failed")

	res, err := m.apply(ctx, study, model.StudyUpdate{
		LastError:         model.StringPtr(cause.Error()),
		IncrementAttempts: true,
	}, OutcomeTransient)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Failed to record transient error")
	case res.Outcome == OutcomeLostRace:
		return m.finish(res), nil
	}

	return m.finish(&Result{Study: study, Outcome: OutcomeTransient}), errors.NewTransientError(cause, "job status")
}

// apply writes upd if the study is still IMPORTING. On success the local
// copy is updated in place; when another invocation got there first the
// study is reloaded and the outcome becomes OutcomeLostRace.
func (m *Monitor) apply(ctx context.Context, study *model.Study, upd model.StudyUpdate, outcome Outcome) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	ok, err := m.repo.ConditionalUpdate(callCtx, study.StudyID, model.StudyStatusImporting, upd)
	cancel()
	if err != nil {
		return nil, err
	}

	if ok {
		upd.Apply(study, m.now())
		if upd.Status != nil && upd.Status.IsTerminal() {
			metrics.TerminalTransitions.WithLabelValues(string(*upd.Status)).Inc()
		}
		return &Result{Study: study, Outcome: outcome}, nil
	}

	metrics.LostRaces.Inc()
	m.log.Debug().Str("study_id", study.StudyID).Str("outcome", string(outcome)).Msg("Conditional update lost to a concurrent poll")

	current, err := m.load(ctx, study.StudyID)
	if err != nil {
		return nil, err
	}
	return &Result{Study: current, Outcome: OutcomeLostRace}, nil
}

func (m *Monitor) load(ctx context.Context, studyID string) (*model.Study, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	study, err := m.repo.Get(callCtx, studyID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.NewTransientError(err, "load study")
	}
	return study, nil
}

func (m *Monitor) finish(res *Result) *Result {
	metrics.Polls.WithLabelValues(string(res.Outcome)).Inc()
	return res
}
