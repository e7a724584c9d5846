package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BranchIntl/jobworker/drain"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

const fallbackFailureMessage = "job handler failed"

// Invoker runs a handler for one job and reports the outcome. Every admitted
// job is counted on the drain gate for the whole handler execution and
// reporting sequence.
type Invoker struct {
	gateway Gateway
	gate    *drain.Gate
	stats   Statistics
	worker  WorkerInfo
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	running atomic.Int32
}

// NewInvoker creates an invoker reporting through gateway
func NewInvoker(
	gateway Gateway,
	gate *drain.Gate,
	stats Statistics,
	worker WorkerInfo,
	logger *slog.Logger,
) *Invoker {
	if stats == nil {
		stats = nopStatistics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		gateway: gateway,
		gate:    gate,
		stats:   stats,
		worker:  worker,
		logger:  logger,
	}
}

// Invoke runs h for j and reports the result. It returns ErrStopped without
// running the handler once the invoker is closed; otherwise it always
// returns the outcome that was reported. The handler and the reports run
// with a context that ignores cancellation of ctx.
func (i *Invoker) Invoke(ctx context.Context, j job.Job, h Handler) (job.Outcome, error) {
	if !i.admit() {
		return job.Outcome{}, errors.ErrStopped
	}
	defer i.gate.Decrement()
	defer i.running.Add(-1)

	reportCtx := context.WithoutCancel(ctx)
	startTime := time.Now()

	if err := i.stats.RecordJobStarted(reportCtx, j, i.worker); err != nil {
		i.logger.Error("Failed to record job start", "error", err)
	}

	variables, err := i.execute(reportCtx, j, h)
	if err == nil {
		i.logger.Debug("Reporting job success", "type", j.GetType(), "key", j.GetKey())
		completeErr := i.gateway.Complete(reportCtx, j, variables)
		if completeErr == nil {
			i.handleSuccess(reportCtx, j, startTime)
			return job.Succeeded(), nil
		}
		i.logger.Error("Failed to report job success", "type", j.GetType(), "key", j.GetKey(), "error", completeErr)
		err = completeErr
	}

	outcome := job.Failed(j.GetType()+"Error", failureMessage(err))
	i.handleFailure(reportCtx, j, err, startTime)

	if failErr := i.gateway.Fail(reportCtx, j, outcome.ErrorCode, outcome.ErrorMessage); failErr != nil {
		i.logger.Error("Reporting error", "type", j.GetType(), "key", j.GetKey(), "error", failErr)
	} else {
		i.logger.Info("Job failure reported", "type", j.GetType(), "key", j.GetKey(), "code", outcome.ErrorCode)
	}

	return outcome, nil
}

// Close stops admitting jobs. After Close returns no further gate increment
// happens through this invoker.
func (i *Invoker) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
}

// Running returns the number of admitted jobs whose handling has not
// finished. It drops to zero before the gate does.
func (i *Invoker) Running() int {
	return int(i.running.Load())
}

// admit increments the gate unless the invoker is closed
func (i *Invoker) admit() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}
	i.gate.Increment()
	i.running.Add(1)
	return true
}

// execute runs the handler with panic recovery and encodes its result
func (i *Invoker) execute(ctx context.Context, j job.Job, h Handler) (variables json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			variables = nil
			err = errors.NewHandlerError(j.GetType(), j.GetKey(), fmt.Errorf("panic: %v", r))
		}
	}()

	result, execErr := h(ctx, j)
	if execErr != nil {
		return nil, errors.NewHandlerError(j.GetType(), j.GetKey(), execErr)
	}

	variables, encErr := job.EncodeVariables(result)
	if encErr != nil {
		return nil, errors.NewHandlerError(j.GetType(), j.GetKey(), fmt.Errorf("invalid result variables: %w", encErr))
	}
	return variables, nil
}

func (i *Invoker) handleSuccess(ctx context.Context, j job.Job, startTime time.Time) {
	duration := time.Since(startTime)

	if err := i.stats.RecordJobCompleted(ctx, j, i.worker, duration); err != nil {
		i.logger.Error("Failed to record job completion", "error", err)
	}

	i.logger.Info("Job completed", "type", j.GetType(), "key", j.GetKey(), "duration", duration)
}

func (i *Invoker) handleFailure(ctx context.Context, j job.Job, err error, startTime time.Time) {
	duration := time.Since(startTime)

	if statErr := i.stats.RecordJobFailed(ctx, j, i.worker, err, duration); statErr != nil {
		i.logger.Error("Failed to record job failure", "error", statErr)
	}

	i.logger.Error("Job failed", "type", j.GetType(), "key", j.GetKey(), "error", err)
}

// failureMessage returns the message sent with a failure report: the
// handler's own error text, never empty
func failureMessage(err error) string {
	var handlerErr *errors.HandlerError
	if errors.As(err, &handlerErr) && handlerErr.Err != nil {
		err = handlerErr.Err
	}
	if err == nil || err.Error() == "" {
		return fallbackFailureMessage
	}
	return err.Error()
}
