package scheduler

import (
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/monitor"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"
)

type Action int

const (
	ActionStop Action = iota
	ActionPoll
	ActionExpire
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionPoll:
		return "poll"
	case ActionExpire:
		return "expire"
	}
	return "unknown"
}

type Decision struct {
	Action Action
	// Delay until the next poll, for ActionPoll.
	Delay time.Duration
	// Streak is the transient streak to carry into the next poll.
	Streak int
}

// Policy decides what follows a poll. It is pure so the in-process loop and
// the queue worker make the same choices.
type Policy struct {
	Interval    time.Duration
	Deadline    time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

func PolicyFromConfig(cfg config.IngestionConfig) Policy {
	return Policy{
		Interval:    cfg.PollInterval(),
		Deadline:    cfg.MaxPollDeadline(),
		BackoffCap:  cfg.BackoffCap(),
		MaxAttempts: cfg.MaxPollAttempts,
	}
}

// Backoff returns the delay after streak consecutive transient errors:
// Interval, 2*Interval, 4*Interval and so on, capped at BackoffCap.
func (p Policy) Backoff(streak int) time.Duration {
	d := p.Interval
	for i := 1; i < streak; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Expired reports whether study has used up its polling budget, either the
// wall-clock deadline measured from submission or the attempt limit.
func (p Policy) Expired(study *model.Study, now time.Time) bool {
	if now.Sub(study.SubmittedAt) >= p.Deadline {
		return true
	}
	return p.MaxAttempts > 0 && study.AttemptCount >= p.MaxAttempts
}

// Next decides what to do after a poll that returned res and err. streak is
// the number of transient errors immediately before this poll.
func (p Policy) Next(res *monitor.Result, err error, streak int, now time.Time) Decision {
	if errors.IsNotFound(err) {
		return Decision{Action: ActionStop}
	}

	if res == nil || res.Study == nil {
		// The study could not even be loaded; try again later.
		return Decision{Action: ActionPoll, Delay: p.Backoff(streak + 1), Streak: streak + 1}
	}

	study := res.Study
	if study.Status.IsTerminal() {
		return Decision{Action: ActionStop}
	}
	if p.Expired(study, now) {
		return Decision{Action: ActionExpire}
	}

	d := Decision{Action: ActionPoll, Delay: p.Interval}
	if err != nil || res.Outcome == monitor.OutcomeTransient {
		d.Streak = streak + 1
		d.Delay = p.Backoff(d.Streak)
	}

	// Wake up no later than the deadline so expiry is not overshot.
	if remaining := study.SubmittedAt.Add(p.Deadline).Sub(now); d.Delay > remaining {
		d.Delay = remaining
	}
	return d
}
