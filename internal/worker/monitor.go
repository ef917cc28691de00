package worker

import (
	"context"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/config"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/queue"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/scheduler"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/rs/zerolog"
)

type TaskConsumer interface {
	ConsumeDuePolls(ctx context.Context, handler queue.DeliveryHandler) error
	Ack(ctx context.Context, d queue.Delivery) error
	DeadLetter(ctx context.Context, d queue.Delivery) error
}

type Stepper interface {
	Step(ctx context.Context, task model.PollTask) (*scheduler.StepResult, error)
}

// MonitorWorker runs scheduled polls from the queue on a worker pool. A task
// is acked only after its follow-up is enqueued, so a crash in between leads
// to a duplicate poll rather than a lost one.
type MonitorWorker struct {
	consumer   TaskConsumer
	producer   scheduler.Queue
	stepper    Stepper
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewMonitorWorker(cfg *config.Config, consumer TaskConsumer, producer scheduler.Queue, stepper Stepper) *MonitorWorker {
	return &MonitorWorker{
		consumer:   consumer,
		producer:   producer,
		stepper:    stepper,
		workerPool: NewWorkerPool(cfg.Workers.Monitor.Count),
		log:        logger.For("monitor-worker"),
	}
}

func (w *MonitorWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting monitor worker")

	w.workerPool.Start(ctx)

	return w.consumer.ConsumeDuePolls(ctx, w.handleDelivery)
}

func (w *MonitorWorker) Stop() {
	w.log.Info().Msg("Stopping monitor worker")
	w.workerPool.Stop()
}

func (w *MonitorWorker) handleDelivery(ctx context.Context, d queue.Delivery) {
	submitted := w.workerPool.Submit(ctx, func(ctx context.Context) error {
		return w.process(ctx, d)
	})
	if !submitted {
		w.log.Warn().Str("study_id", d.Task.StudyID).Msg("Worker pool closed, poll task left for redelivery")
	}
}

func (w *MonitorWorker) process(ctx context.Context, d queue.Delivery) error {
	log := w.log.With().Str("study_id", d.Task.StudyID).Logger()

	res, err := w.stepper.Step(ctx, d.Task)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Warn().Msg("Poll task for unknown study moved to DLQ")
			return w.consumer.DeadLetter(ctx, d)
		}
		report.ReportError(ctx, err, map[string]interface{}{"study_id": d.Task.StudyID})
		return err
	}

	if res.Next != nil {
		if err := w.producer.SchedulePoll(ctx, *res.Next); err != nil {
			log.Error().Err(err).Msg("Failed to schedule next poll, task will be redelivered")
			return err
		}
	} else if res.Study != nil {
		log.Info().Str("status", string(res.Study.Status)).Msg("Polling finished")
	}

	return w.consumer.Ack(ctx, d)
}
