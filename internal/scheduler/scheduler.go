package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/rs/zerolog"
)

// Poller is the part of the import monitor the scheduler drives.
type Poller interface {
	Poll(ctx context.Context, studyID string) (*monitor.Result, error)
	Expire(ctx context.Context, studyID string, elapsed time.Duration) (*monitor.Result, error)
}

// Queue delivers poll tasks to workers, possibly in other processes.
type Queue interface {
	SchedulePoll(ctx context.Context, task model.PollTask) error
	// EnsurePoll schedules task only when the study has no pending poll and
	// reports whether it did.
	EnsurePoll(ctx context.Context, task model.PollTask) (bool, error)
}

type StepResult struct {
	// Study is the record as last seen, nil when it could not be loaded.
	Study *model.Study
	// Next is the follow-up poll, nil once the study needs no more polling.
	Next *model.PollTask
}

// Scheduler drives the monitor for a study until it is terminal or expired.
// With a queue, each poll is a task handed to the monitor workers; without
// one, each submission gets its own polling goroutine.
type Scheduler struct {
	poller Poller
	policy Policy
	queue  Queue
	now    func() time.Time
	log    zerolog.Logger

	base   context.Context
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]struct{}
}

// New returns a Scheduler. base bounds the polling goroutines started by
// SchedulePoll when queue is nil.
func New(base context.Context, poller Poller, policy Policy, queue Queue) *Scheduler {
	return &Scheduler{
		poller: poller,
		policy: policy,
		queue:  queue,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.For("scheduler"),
		base:   base,
		active: make(map[string]struct{}),
	}
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// SchedulePoll arranges the first poll of a freshly submitted study,
// due immediately.
func (s *Scheduler) SchedulePoll(ctx context.Context, studyID string) error {
	if s.queue != nil {
		return s.queue.SchedulePoll(ctx, model.PollTask{StudyID: studyID, NotBefore: s.now()})
	}

	s.spawn(studyID)
	return nil
}

// spawn starts a polling goroutine for studyID unless one is already running
// in this process.
func (s *Scheduler) spawn(studyID string) bool {
	s.mu.Lock()
	if _, running := s.active[studyID]; running {
		s.mu.Unlock()
		return false
	}
	s.active[studyID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, studyID)
			s.mu.Unlock()
		}()
		if _, err := s.Run(s.base, studyID); err != nil && s.base.Err() == nil {
			s.log.Error().Err(err).Str("study_id", studyID).Msg("Polling stopped")
		}
	}()
	return true
}

// Wait blocks until every polling goroutine started by SchedulePoll returns.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run polls studyID in process until no further poll is needed and returns
// the final record. It returns early only when ctx is done or the study
// does not exist.
func (s *Scheduler) Run(ctx context.Context, studyID string) (*model.Study, error) {
	task := model.PollTask{StudyID: studyID}
	for {
		res, err := s.Step(ctx, task)
		if err != nil {
			return nil, err
		}
		if res.Next == nil {
			return res.Study, nil
		}

		wait := res.Next.NotBefore.Sub(s.now())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res.Study, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return res.Study, err
		}
		task = *res.Next
	}
}

// Step runs one poll for task and returns the follow-up task. Poll errors are
// folded into the decision; only a missing study is returned as an error.
func (s *Scheduler) Step(ctx context.Context, task model.PollTask) (*StepResult, error) {
	log := s.log.With().Str("study_id", task.StudyID).Logger()

	res, err := s.poller.Poll(ctx, task.StudyID)
	if errors.IsNotFound(err) {
		log.Warn().Err(err).Msg("Study not found, dropping poll")
		return nil, err
	}
	if err != nil && !errors.IsTransient(err) {
		log.Error().Err(err).Msg("Poll failed")
	}

	now := s.now()
	decision := s.policy.Next(res, err, task.TransientStreak, now)

	var study *model.Study
	if res != nil {
		study = res.Study
	}

	switch decision.Action {
	case ActionStop:
		return &StepResult{Study: study}, nil

	case ActionExpire:
		expired, err := s.poller.Expire(ctx, task.StudyID, now.Sub(study.SubmittedAt))
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, err
			}
			log.Warn().Err(err).Msg("Failed to record timeout, will retry")
			streak := task.TransientStreak + 1
			return &StepResult{Study: study, Next: &model.PollTask{
				StudyID:         task.StudyID,
				TransientStreak: streak,
				NotBefore:       now.Add(s.policy.Backoff(streak)),
			}}, nil
		}
		return &StepResult{Study: expired.Study}, nil
	}

	if decision.Streak > 0 {
		log.Debug().Int("transient_streak", decision.Streak).Dur("delay", decision.Delay).Msg("Backing off")
	}
	return &StepResult{Study: study, Next: &model.PollTask{
		StudyID:         task.StudyID,
		TransientStreak: decision.Streak,
		NotBefore:       now.Add(decision.Delay),
	}}, nil
}
