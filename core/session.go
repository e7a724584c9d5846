package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BranchIntl/jobworker/drain"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Session is one open subscription of a worker to its gateway: the
// connection, the poller feeding the job channel and the handler pool
// reading from it.
type Session struct {
	gateway Gateway
	invoker *Invoker
	pool    *WorkerPool
	jobChan chan job.Job
	request ActivateRequest
	logger  *slog.Logger

	cancel     context.CancelFunc
	pollerDone chan struct{}
	poolDone   chan struct{}
	closed     chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// OpenSession connects the gateway and starts polling and handling jobs
func OpenSession(
	ctx context.Context,
	gateway Gateway,
	handler Handler,
	gate *drain.Gate,
	stats Statistics,
	worker WorkerInfo,
	config *Config,
) (*Session, error) {
	if err := gateway.Connect(ctx); err != nil {
		return nil, errors.NewConnectionError(gateway.Type(),
			fmt.Errorf("failed to connect gateway: %w", err))
	}

	logger := config.Logger.With("type", worker.JobType, "worker", worker.Name)

	s := &Session{
		gateway: gateway,
		jobChan: make(chan job.Job, config.MaxJobsActive),
		request: ActivateRequest{
			Type:           worker.JobType,
			Worker:         worker.Name,
			MaxJobs:        config.MaxJobsActive,
			Timeout:        config.JobTimeout,
			RequestTimeout: config.PollTimeout,
			FetchVariables: config.FetchVariables,
		},
		logger:     logger,
		pollerDone: make(chan struct{}),
		poolDone:   make(chan struct{}),
		closed:     make(chan struct{}),
	}
	s.invoker = NewInvoker(gateway, gate, stats, worker, logger)
	s.pool = NewWorkerPool(s.invoker, handler, gateway, config.HandlerThreads, s.jobChan, logger)

	// Check if gateway implements Poller interface
	var poller Poller
	if gatewayPoller, ok := gateway.(Poller); ok {
		poller = gatewayPoller
	} else {
		poller = NewStandardPoller(gateway, config.PollInterval, s.capacity, logger)
	}

	var pollCtx context.Context
	pollCtx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.pollerDone)
		if err := poller.Start(pollCtx, s.request, s.jobChan); err != nil {
			logger.Error("Poller error", "error", err)
		}
	}()

	go func() {
		defer close(s.poolDone)
		if err := s.pool.Start(ctx); err != nil {
			logger.Error("Handler pool error", "error", err)
		}
	}()

	logger.Info("Session opened", "gateway", gateway.Type())
	return s, nil
}

// capacity is the number of jobs the session can still take
func (s *Session) capacity() int {
	return s.request.MaxJobs - len(s.jobChan) - s.pool.Busy()
}

// StopPolling stops activating new jobs and closes handler admission. The
// gateway connection stays open so running handlers can still report.
func (s *Session) StopPolling() {
	s.stopOnce.Do(func() {
		s.invoker.Close()
		s.cancel()
		s.logger.Info("Polling stopped")
	})
}

// Close stops polling, hands back jobs that were activated but never
// admitted, and closes the gateway. It never waits for a running handler:
// when handlers are still running the gateway is closed once they have
// finished, so their reports still reach it.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.StopPolling()
		<-s.pollerDone

		var pending []job.Job
		for j := range s.jobChan {
			pending = append(pending, j)
		}
		releaseJobs(context.Background(), s.gateway, pending, s.logger)

		if running := s.invoker.Running(); running > 0 {
			s.logger.Warn("Closing gateway after running handlers finish", "running", running)
			go func() {
				<-s.poolDone
				if err := s.closeGateway(); err != nil {
					s.logger.Error("Error closing gateway", "error", err)
				}
			}()
			return
		}

		<-s.poolDone
		s.closeErr = s.closeGateway()
	})
	return s.closeErr
}

func (s *Session) closeGateway() error {
	defer close(s.closed)
	if err := s.gateway.Close(); err != nil {
		return errors.NewGatewayError("close", s.request.Type, err)
	}
	s.logger.Info("Session closed")
	return nil
}

// Closed is closed once the gateway has been closed
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Done is closed once the handler pool has exited
func (s *Session) Done() <-chan struct{} {
	return s.poolDone
}

// Request returns the activation request used by the session
func (s *Session) Request() ActivateRequest {
	return s.request
}
