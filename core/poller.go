package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/BranchIntl/jobworker/job"
)

const releaseTimeout = 5 * time.Second

// StandardPoller is a gateway-agnostic job poller for pull-based gateways
type StandardPoller struct {
	gateway  Gateway
	interval time.Duration
	capacity func() int
	logger   *slog.Logger
}

// NewStandardPoller creates a new standard poller. capacity reports how many
// more jobs the worker can take; nil means the request's MaxJobs.
func NewStandardPoller(
	gateway Gateway,
	interval time.Duration,
	capacity func() int,
	logger *slog.Logger,
) *StandardPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &StandardPoller{
		gateway:  gateway,
		interval: interval,
		capacity: capacity,
		logger:   logger,
	}
}

// Start polls until ctx is done, then closes jobChan
func (p *StandardPoller) Start(ctx context.Context, req ActivateRequest, jobChan chan<- job.Job) error {
	p.logger.Info("StandardPoller started", "type", req.Type, "worker", req.Worker)

	defer func() {
		close(jobChan)
		p.logger.Info("StandardPoller stopped", "type", req.Type)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := p.available(req.MaxJobs)
		if n <= 0 {
			if !p.wait(ctx) {
				return nil
			}
			continue
		}

		jobs, err := p.pollOnce(ctx, req, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("Error polling", "type", req.Type, "error", err)
			if !p.wait(ctx) {
				return nil
			}
			continue
		}

		if len(jobs) == 0 {
			// No job found, wait before polling again
			if !p.wait(ctx) {
				return nil
			}
			continue
		}

		for idx, j := range jobs {
			select {
			case jobChan <- j:
				p.logger.Debug("Job sent to handlers", "type", j.GetType(), "key", j.GetKey())
			case <-ctx.Done():
				releaseJobs(ctx, p.gateway, jobs[idx:], p.logger)
				return nil
			}
		}
	}
}

// pollOnce asks the gateway for up to n jobs, bounded by the request timeout
func (p *StandardPoller) pollOnce(ctx context.Context, req ActivateRequest, n int) ([]job.Job, error) {
	pollCtx := ctx
	if req.RequestTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, req.RequestTimeout)
		defer cancel()
	}

	req.MaxJobs = n
	jobs, err := p.gateway.Activate(pollCtx, req)
	if err != nil {
		return nil, err
	}

	if len(jobs) > 0 {
		p.logger.Debug("Activated jobs", "type", req.Type, "count", len(jobs))
	}
	return jobs, nil
}

func (p *StandardPoller) available(maxJobs int) int {
	if p.capacity == nil {
		return maxJobs
	}
	return min(p.capacity(), maxJobs)
}

func (p *StandardPoller) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// releaseJobs hands activated jobs back to gateways that support it. Jobs
// on other gateways are left to their activation timeout.
func releaseJobs(ctx context.Context, gateway Gateway, jobs []job.Job, logger *slog.Logger) {
	if len(jobs) == 0 {
		return
	}

	releaser, ok := gateway.(Releaser)
	if !ok {
		logger.Debug("Gateway cannot release jobs, leaving them to time out", "count", len(jobs))
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, j := range jobs {
		if err := releaser.Release(releaseCtx, j); err != nil {
			logger.Error("Error releasing job", "type", j.GetType(), "key", j.GetKey(), "error", err)
		}
	}
}
