package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"

	"github.com/rs/zerolog"
)

type Job func(context.Context) error

type WorkerPool struct {
	workerCount int
	jobChan     chan Job
	wg          sync.WaitGroup
	log         zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
		jobChan:     make(chan Job, workerCount*2),
		log:         logger.For("worker-pool"),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	wp.log.Info().Int("worker_count", wp.workerCount).Msg("Starting worker pool")

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop stops accepting jobs, lets queued jobs drain and waits for the
// workers to exit.
func (wp *WorkerPool) Stop() {
	wp.log.Info().Msg("Stopping worker pool")

	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobChan)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.log.Info().Msg("Worker pool stopped")
}

// Submit blocks until a worker queue slot is free. It returns false when the
// pool is stopped or ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}

	select {
	case wp.jobChan <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	log := wp.log.With().Int("worker_id", id).Logger()
	log.Debug().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Worker stopping due to context cancellation")
			return
		case job, ok := <-wp.jobChan:
			if !ok {
				log.Debug().Msg("Worker stopping due to closed job channel")
				return
			}

			if err := wp.run(ctx, job); err != nil {
				log.Error().Err(err).Msg("Job execution failed")
			}
		}
	}
}

// run executes job, turning a panic into an error so one bad job cannot take
// the worker down.
func (wp *WorkerPool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			report.ReportPanic(err)
		}
	}()
	return job(ctx)
}
