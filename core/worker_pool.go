package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// WorkerPool runs handlers for the jobs of one worker
type WorkerPool struct {
	invoker     *Invoker
	handler     Handler
	gateway     Gateway
	concurrency int
	jobChan     <-chan job.Job
	logger      *slog.Logger
	busy        atomic.Int32
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	invoker *Invoker,
	handler Handler,
	gateway Gateway,
	concurrency int,
	jobChan <-chan job.Job,
	logger *slog.Logger,
) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		invoker:     invoker,
		handler:     handler,
		gateway:     gateway,
		concurrency: concurrency,
		jobChan:     jobChan,
		logger:      logger,
	}
}

// Start runs concurrency goroutines over the job channel and blocks until the
// channel is closed and every goroutine has returned
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.logger.Info("Starting handler pool", "threads", wp.concurrency)

	for i := 0; i < wp.concurrency; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			for j := range wp.jobChan {
				wp.process(ctx, j)
			}
		}()
	}

	wp.wg.Wait()
	wp.logger.Info("Handler pool stopped")
	return nil
}

func (wp *WorkerPool) process(ctx context.Context, j job.Job) {
	wp.busy.Add(1)
	defer wp.busy.Add(-1)

	outcome, err := wp.invoker.Invoke(ctx, j, wp.handler)
	if errors.Is(err, errors.ErrStopped) {
		wp.logger.Debug("Job rejected after polling stopped", "type", j.GetType(), "key", j.GetKey())
		releaseJobs(ctx, wp.gateway, []job.Job{j}, wp.logger)
		return
	}

	wp.logger.Debug("Job handled", "type", j.GetType(), "key", j.GetKey(), "outcome", outcome.Kind)
}

// Busy returns the number of goroutines currently handling a job
func (wp *WorkerPool) Busy() int {
	return int(wp.busy.Load())
}
