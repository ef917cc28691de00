package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/queue"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/scheduler"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	mu          sync.Mutex
	deliveries  []queue.Delivery
	acked       []string
	deadLetters []string
}

func (c *fakeConsumer) ConsumeDuePolls(ctx context.Context, handler queue.DeliveryHandler) error {
	for _, d := range c.deliveries {
		handler(ctx, d)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConsumer) Ack(_ context.Context, d queue.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, d.Task.StudyID)
	return nil
}

func (c *fakeConsumer) DeadLetter(_ context.Context, d queue.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLetters = append(c.deadLetters, d.Task.StudyID)
	return nil
}

type fakeProducer struct {
	mu    sync.Mutex
	tasks []model.PollTask
	err   error
}

func (p *fakeProducer) SchedulePoll(_ context.Context, task model.PollTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *fakeProducer) EnsurePoll(ctx context.Context, task model.PollTask) (bool, error) {
	return true, p.SchedulePoll(ctx, task)
}

type fakeStepper struct {
	StepFunc func(task model.PollTask) (*scheduler.StepResult, error)
}

func (s *fakeStepper) Step(_ context.Context, task model.PollTask) (*scheduler.StepResult, error) {
	return s.StepFunc(task)
}

func newTestWorker(consumer *fakeConsumer, producer *fakeProducer, stepper *fakeStepper) *MonitorWorker {
	cfg := config.Default()
	cfg.Workers.Monitor.Count = 2
	return NewMonitorWorker(cfg, consumer, producer, stepper)
}

func TestMonitorWorker_Process(t *testing.T) {
	due := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	stepper := &fakeStepper{StepFunc: func(task model.PollTask) (*scheduler.StepResult, error) {
		switch task.StudyID {
		case "polling":
			return &scheduler.StepResult{
				Study: &model.Study{StudyID: task.StudyID, Status: model.StudyStatusImporting},
				Next:  &model.PollTask{StudyID: task.StudyID, NotBefore: due},
			}, nil
		case "done":
			return &scheduler.StepResult{Study: &model.Study{StudyID: task.StudyID, Status: model.StudyStatusReadyForAnalysis}}, nil
		}
		return nil, errors.NewNotFoundError("study", task.StudyID)
	}}

	tests := []struct {
		studyID  string
		wantAck  bool
		wantDLQ  bool
		wantNext bool
	}{
		{studyID: "polling", wantAck: true, wantNext: true},
		{studyID: "done", wantAck: true},
		{studyID: "missing", wantDLQ: true},
	}

	for _, tt := range tests {
		t.Run(tt.studyID, func(t *testing.T) {
			consumer := &fakeConsumer{}
			producer := &fakeProducer{}
			w := newTestWorker(consumer, producer, stepper)

			err := w.process(context.Background(), queue.Delivery{Task: model.PollTask{StudyID: tt.studyID}})
			require.NoError(t, err)

			assert.Equal(t, tt.wantAck, len(consumer.acked) == 1)
			assert.Equal(t, tt.wantDLQ, len(consumer.deadLetters) == 1)
			assert.Equal(t, tt.wantNext, len(producer.tasks) == 1)
			if tt.wantNext {
				assert.Equal(t, due, producer.tasks[0].NotBefore)
			}
		})
	}
}

func TestMonitorWorker_NoAckWhenRescheduleFails(t *testing.T) {
	consumer := &fakeConsumer{}
	producer := &fakeProducer{err: fmt.Errorf("redis down")}
	stepper := &fakeStepper{StepFunc: func(task model.PollTask) (*scheduler.StepResult, error) {
		return &scheduler.StepResult{Next: &model.PollTask{StudyID: task.StudyID}}, nil
	}}
	w := newTestWorker(consumer, producer, stepper)

	err := w.process(context.Background(), queue.Delivery{Task: model.PollTask{StudyID: "STUDY-1"}})
	assert.Error(t, err)
	assert.Empty(t, consumer.acked)
}

func TestMonitorWorker_StartProcessesDeliveries(t *testing.T) {
	consumer := &fakeConsumer{deliveries: []queue.Delivery{
		{Task: model.PollTask{StudyID: "a"}},
		{Task: model.PollTask{StudyID: "b"}},
	}}
	stepper := &fakeStepper{StepFunc: func(task model.PollTask) (*scheduler.StepResult, error) {
		return &scheduler.StepResult{Study: &model.Study{StudyID: task.StudyID, Status: model.StudyStatusFailed}}, nil
	}}
	w := newTestWorker(consumer, &fakeProducer{}, stepper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		consumer.mu.Lock()
		defer consumer.mu.Unlock()
		return len(consumer.acked) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	w.Stop()
}
