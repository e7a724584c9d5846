package core

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/drain"
	"github.com/BranchIntl/jobworker/job"
)

// TestSetup provides common test dependencies
type TestSetup struct {
	Gateway  *MockGateway
	Stats    *MockStatistics
	Registry *MockRegistry
	Gate     *drain.Gate
}

// NewTestSetup creates a standard test setup with all mocks
func NewTestSetup() *TestSetup {
	// Only show errors in tests
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)

	stats := NewMockStatistics()
	return &TestSetup{
		Gateway:  NewMockGateway(),
		Stats:    stats,
		Registry: NewMockRegistry(),
		Gate:     drain.New(drain.WithObserver(stats)),
	}
}

// fastOptions scales worker timings down to milliseconds
func fastOptions(extra ...WorkerOption) []WorkerOption {
	return append([]WorkerOption{
		WithPollInterval(10 * time.Millisecond),
		WithPollTimeout(100 * time.Millisecond),
		WithJobTimeout(time.Second),
		WithShutdownTimeout(time.Second),
		WithWorkerName("test-worker"),
	}, extra...)
}

// WorkerBuilder helps create workers for testing
type WorkerBuilder struct {
	setup   *TestSetup
	jobType string
	handler Handler
	options []WorkerOption
}

// NewWorker starts building a test worker
func (s *TestSetup) NewWorker() *WorkerBuilder {
	return &WorkerBuilder{
		setup:   s,
		jobType: "test-job",
		handler: func(ctx context.Context, j job.Job) (any, error) { return nil, nil },
		options: fastOptions(),
	}
}

// WithJobType sets the job type
func (b *WorkerBuilder) WithJobType(jobType string) *WorkerBuilder {
	b.jobType = jobType
	return b
}

// WithHandler sets the handler
func (b *WorkerBuilder) WithHandler(handler Handler) *WorkerBuilder {
	b.handler = handler
	return b
}

// WithOptions adds worker options
func (b *WorkerBuilder) WithOptions(options ...WorkerOption) *WorkerBuilder {
	b.options = append(b.options, options...)
	return b
}

// Build creates the worker
func (b *WorkerBuilder) Build(t *testing.T) *Worker {
	t.Helper()
	w, err := NewWorker(b.jobType, b.handler, b.setup.Gateway, b.setup.Gate, b.setup.Stats, b.options...)
	require.NoError(t, err)
	return w
}

// EngineBuilder helps create engines for testing
type EngineBuilder struct {
	mu       sync.Mutex
	setup    *TestSetup
	gateways map[string]*MockGateway
	options  []EngineOption
}

// NewEngine starts building a test engine. Each job type gets its own mock
// gateway, created on first use.
func (s *TestSetup) NewEngine() *EngineBuilder {
	return &EngineBuilder{
		setup:    s,
		gateways: make(map[string]*MockGateway),
		options: []EngineOption{
			WithGate(s.Gate),
			WithWorkerOptions(fastOptions()...),
		},
	}
}

// WithOptions adds engine options
func (b *EngineBuilder) WithOptions(options ...EngineOption) *EngineBuilder {
	b.options = append(b.options, options...)
	return b
}

// Gateway returns the mock gateway for jobType
func (b *EngineBuilder) Gateway(jobType string) *MockGateway {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gw, ok := b.gateways[jobType]; ok {
		return gw
	}
	gw := NewMockGateway()
	b.gateways[jobType] = gw
	return gw
}

// Build creates the engine
func (b *EngineBuilder) Build() *Engine {
	factory := func(jobType string) (Gateway, error) {
		return b.Gateway(jobType), nil
	}
	return NewEngine(factory, b.setup.Stats, b.setup.Registry, b.options...)
}

// sleepingHandler returns a handler that sleeps for d and then signals on
// done, ignoring cancellation
func sleepingHandler(d time.Duration, done chan<- string) Handler {
	return func(ctx context.Context, j job.Job) (any, error) {
		time.Sleep(d)
		if done != nil {
			done <- j.GetKey()
		}
		return nil, nil
	}
}

// blockingHandler returns a handler that signals started and then blocks
// until release is closed
func blockingHandler(started chan<- string, release <-chan struct{}) Handler {
	return func(ctx context.Context, j job.Job) (any, error) {
		started <- j.GetKey()
		<-release
		return nil, nil
	}
}

// WaitForJobs waits for a specified number of values on resultChan
func WaitForJobs(t *testing.T, resultChan <-chan string, expectedCount int, timeout time.Duration) []string {
	t.Helper()
	results := make([]string, 0, expectedCount)
	for i := 0; i < expectedCount; i++ {
		select {
		case result := <-resultChan:
			results = append(results, result)
		case <-time.After(timeout):
			t.Fatalf("Timeout waiting for job %d/%d", i+1, expectedCount)
		}
	}
	return results
}
