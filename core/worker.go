package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BranchIntl/jobworker/drain"
	"github.com/BranchIntl/jobworker/errors"
)

// State is the lifecycle state of a worker
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker polls one job type from a gateway and runs its handler. The state
// only moves forward: Created, Running, Draining, Stopped.
type Worker struct {
	jobType string
	handler Handler
	gateway Gateway
	gate    *drain.Gate
	stats   Statistics
	config  *Config
	info    WorkerInfo
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session

	stopOnce   sync.Once
	drained    bool
	finishOnce sync.Once
	finished   chan struct{}
}

// NewWorker creates a worker and validates its configuration
func NewWorker(
	jobType string,
	handler Handler,
	gateway Gateway,
	gate *drain.Gate,
	stats Statistics,
	options ...WorkerOption,
) (*Worker, error) {
	if jobType == "" {
		return nil, errors.NewConfigError("JobType", fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errors.ErrEmptyJobType))
	}
	if handler == nil {
		return nil, errors.NewConfigError("Handler", fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errors.ErrNilHandler))
	}
	if gateway == nil {
		return nil, errors.NewConfigError("Gateway", fmt.Errorf("%w: gateway cannot be nil", errors.ErrInvalidConfig))
	}

	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	if err := config.validate(jobType); err != nil {
		return nil, err
	}

	if gate == nil {
		gate = drain.New(drain.WithLogger(config.Logger))
	}
	if stats == nil {
		stats = nopStatistics{}
	}

	hostname, _ := os.Hostname()

	return &Worker{
		jobType: jobType,
		handler: handler,
		gateway: gateway,
		gate:    gate,
		stats:   stats,
		config:  config,
		info: WorkerInfo{
			ID:       uuid.NewString(),
			Name:     config.WorkerName,
			Hostname: hostname,
			Pid:      os.Getpid(),
			JobType:  jobType,
		},
		logger:   config.Logger,
		finished: make(chan struct{}),
	}, nil
}

// Start connects the gateway and begins polling. A worker starts at most
// once.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateCreated:
	case StateStopped:
		return errors.ErrStopped
	default:
		return errors.ErrAlreadyStarted
	}

	w.info.Started = time.Now()

	session, err := OpenSession(ctx, w.gateway, w.handler, w.gate, w.stats, w.info, w.config)
	if err != nil {
		w.state = StateStopped
		w.logger.Error("Worker failed to start", "type", w.jobType, "error", err)
		return err
	}
	w.session = session
	w.state = StateRunning

	if err := w.stats.RegisterWorker(ctx, w.info); err != nil {
		w.logger.Error("Failed to register worker", "error", err)
	}

	w.logger.Info("Worker started", "type", w.jobType, "name", w.info.Name)
	return nil
}

// StopPolling stops accepting new jobs. Handlers already running keep
// running and still report.
func (w *Worker) StopPolling() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRunning {
		return
	}
	w.session.StopPolling()
	w.state = StateDraining
	w.logger.Info("Worker stopped polling", "type", w.jobType)
}

// Stop stops polling, waits up to timeout for active handlers on the shared
// gate and closes the session. It reports whether the gate drained. Later
// calls return the result of the first.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.stopOnce.Do(func() {
		w.drained = w.stop(timeout)
	})
	return w.drained
}

func (w *Worker) stop(timeout time.Duration) bool {
	w.mu.Lock()
	if w.state == StateCreated || w.state == StateStopped {
		w.state = StateStopped
		w.mu.Unlock()
		w.finish()
		return true
	}
	w.mu.Unlock()

	w.StopPolling()

	drained := w.gate.Wait(timeout)
	if !drained {
		w.logger.Warn("Worker stopping with active handlers", "type", w.jobType, "active", w.gate.Active())
	}

	w.mu.Lock()
	session := w.session
	w.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			w.logger.Error("Error closing session", "type", w.jobType, "error", err)
		}
		select {
		case <-session.Closed():
			w.unregister()
		default:
			w.logger.Warn("Unregistering worker after running handlers finish", "type", w.jobType)
			go func() {
				<-session.Closed()
				w.unregister()
			}()
		}
	} else {
		w.finish()
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()

	w.logger.Info("Worker stopped", "type", w.jobType, "drained", drained)
	return drained
}

// unregister removes the worker from statistics once its session is closed
func (w *Worker) unregister() {
	if err := w.stats.UnregisterWorker(context.Background(), w.info.ID); err != nil {
		w.logger.Error("Failed to unregister worker", "error", err)
	}
	w.finish()
}

func (w *Worker) finish() {
	w.finishOnce.Do(func() {
		close(w.finished)
	})
}

// Finished is closed once the worker has stopped and every handler it
// admitted has reported. After a drain timeout this happens after Stop
// returns.
func (w *Worker) Finished() <-chan struct{} {
	return w.finished
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// JobType returns the job type the worker handles
func (w *Worker) JobType() string {
	return w.jobType
}

// Info returns the worker description
func (w *Worker) Info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

// Health returns the gateway health
func (w *Worker) Health() error {
	return w.gateway.Health()
}

// ShutdownTimeout returns the configured drain bound
func (w *Worker) ShutdownTimeout() time.Duration {
	return w.config.ShutdownTimeout
}
