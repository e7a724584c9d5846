package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BranchIntl/jobworker/job"
)

// Handler is the function signature for job handlers. The context passed to a
// handler is never cancelled by worker shutdown. A non-nil result is sent as
// JSON variables with the success report.
type Handler func(ctx context.Context, j job.Job) (any, error)

// ActivateRequest describes which jobs a worker asks the gateway for
type ActivateRequest struct {
	// Type is the job type to activate
	Type string
	// Worker identifies the activating worker to the gateway
	Worker string
	// MaxJobs is the maximum number of jobs to activate in one request
	MaxJobs int
	// Timeout is how long an activated job stays locked to this worker
	Timeout time.Duration
	// RequestTimeout bounds a single activation request
	RequestTimeout time.Duration
	// FetchVariables limits the variables returned; empty means all
	FetchVariables []string
}

// Gateway interface defines what core needs from the job distribution service
type Gateway interface {
	// Job activation
	Activate(ctx context.Context, req ActivateRequest) ([]job.Job, error)

	// Job reporting
	Complete(ctx context.Context, j job.Job, variables json.RawMessage) error
	Fail(ctx context.Context, j job.Job, errorCode, errorMessage string) error

	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Health() error
	Type() string
}

// Poller interface is implemented by gateways that push jobs instead of
// being polled. Cancelling ctx stops delivery without closing the
// connection; Start closes jobChan before returning.
type Poller interface {
	Start(ctx context.Context, req ActivateRequest, jobChan chan<- job.Job) error
}

// Releaser interface is implemented by gateways that can hand back an
// activated job that was never handled
type Releaser interface {
	Release(ctx context.Context, j job.Job) error
}

// Enqueuer interface is implemented by gateways that accept new jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, j job.Job) error
}

// GatewayFactory creates a gateway for one worker's session
type GatewayFactory func(jobType string) (Gateway, error)

// Statistics interface defines what core needs from a statistics backend
type Statistics interface {
	// Worker lifecycle
	RegisterWorker(ctx context.Context, worker WorkerInfo) error
	UnregisterWorker(ctx context.Context, workerID string) error

	// Job metrics
	RecordJobStarted(ctx context.Context, j job.Job, worker WorkerInfo) error
	RecordJobCompleted(ctx context.Context, j job.Job, worker WorkerInfo, duration time.Duration) error
	RecordJobFailed(ctx context.Context, j job.Job, worker WorkerInfo, err error, duration time.Duration) error

	// Drain metrics
	RecordDrain(duration time.Duration, drained bool, remaining int64)

	// Health and connection
	Connect(ctx context.Context) error
	Close() error
	Health() error
	Type() string
}

// Registry interface defines what core needs from a handler registry
type Registry interface {
	// Register adds a handler for a job type
	Register(jobType string, handler Handler) error

	// Get retrieves a handler by job type
	Get(jobType string) (Handler, bool)

	// List returns all registered job types
	List() []string
}

// Supporting types used by the interfaces

// WorkerInfo describes a worker
type WorkerInfo struct {
	ID       string
	Name     string
	Hostname string
	Pid      int
	JobType  string
	Started  time.Time
}

// HealthStatus represents the health of the engine
type HealthStatus struct {
	Healthy        bool
	GatewayHealth  map[string]error
	StatsHealth    error
	Workers        map[string]State
	ActiveHandlers int64
	LastCheck      time.Time
}
