package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/BranchIntl/jobworker/drain"
	"github.com/BranchIntl/jobworker/errors"
)

// Engine hosts one worker per registered job type. All workers share a
// single drain gate, so stopping any of them waits for every active handler.
type Engine struct {
	factory  GatewayFactory
	stats    Statistics
	registry Registry
	gate     *drain.Gate
	config   *Config
	options  []WorkerOption
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// EngineOption is a function that modifies the engine
type EngineOption func(*Engine)

// WithWorkerOptions sets the options applied to every worker the engine starts
func WithWorkerOptions(options ...WorkerOption) EngineOption {
	return func(e *Engine) {
		e.options = append(e.options, options...)
	}
}

// WithGate sets the drain gate shared by the engine's workers
func WithGate(gate *drain.Gate) EngineOption {
	return func(e *Engine) {
		e.gate = gate
	}
}

// NewEngine creates a new engine with dependency injection
func NewEngine(
	factory GatewayFactory,
	stats Statistics,
	registry Registry,
	options ...EngineOption,
) *Engine {
	e := &Engine{
		factory:  factory,
		stats:    stats,
		registry: registry,
		workers:  make(map[string]*Worker),
	}
	for _, opt := range options {
		opt(e)
	}

	if e.stats == nil {
		e.stats = nopStatistics{}
	}

	e.config = defaultConfig()
	for _, opt := range e.options {
		opt(e.config)
	}
	e.logger = e.config.Logger
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.gate == nil {
		e.gate = drain.New(drain.WithLogger(e.logger), drain.WithObserver(e.stats))
	}

	return e
}

// Register adds a handler for a job type
func (e *Engine) Register(jobType string, handler Handler) error {
	return e.registry.Register(jobType, handler)
}

// Start connects statistics and starts a worker for every registered job
// type. If any worker fails to start the ones already running are stopped.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.stats.Connect(ctx); err != nil {
		return errors.NewConnectionError(e.stats.Type(),
			fmt.Errorf("failed to connect statistics: %w", err))
	}

	jobTypes := e.registry.List()
	sort.Strings(jobTypes)

	for _, jobType := range jobTypes {
		handler, ok := e.registry.Get(jobType)
		if !ok {
			continue
		}
		if _, err := e.StartWorker(ctx, jobType, handler); err != nil {
			e.stopWorkers()
			return err
		}
	}

	e.logger.Info("Engine started", "workers", len(jobTypes))
	return nil
}

// StartWorker creates a gateway for jobType and starts a worker on it
func (e *Engine) StartWorker(ctx context.Context, jobType string, handler Handler) (*Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workers[jobType]; ok && w.State() != StateStopped {
		return nil, errors.ErrAlreadyStarted
	}

	gateway, err := e.factory(jobType)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway for %s: %w", jobType, err)
	}

	worker, err := NewWorker(jobType, handler, gateway, e.gate, e.stats, e.options...)
	if err != nil {
		return nil, err
	}
	if err := worker.Start(ctx); err != nil {
		return nil, err
	}

	e.workers[jobType] = worker
	e.logger.Info("Worker thread started", "type", jobType)
	return worker, nil
}

// Stop gracefully shuts down all workers and closes statistics. Workers
// stop concurrently and each waits on the shared gate. When the shutdown
// timeout is exceeded Stop returns at once and statistics are closed after
// the remaining handlers have reported.
func (e *Engine) Stop() error {
	workers, drained := e.stopWorkers()

	if drained {
		e.logger.Info("Engine stopped gracefully")
		e.closeStats()
		return nil
	}

	e.logger.Warn("Engine shutdown timeout exceeded", "active", e.gate.Active())
	go func() {
		for _, w := range workers {
			<-w.Finished()
		}
		e.closeStats()
	}()
	return nil
}

func (e *Engine) closeStats() {
	if err := e.stats.Close(); err != nil {
		e.logger.Error("Error closing statistics", "error", err)
	}
}

func (e *Engine) stopWorkers() ([]*Worker, bool) {
	e.mu.Lock()
	workers := make([]*Worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]bool, len(workers))
	for i, w := range workers {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = w.Stop(e.config.ShutdownTimeout)
		}()
	}
	wg.Wait()

	for _, drained := range results {
		if !drained {
			return workers, false
		}
	}
	return workers, true
}

// Run starts the engine and blocks until shutdown signals are received
// This is a convenience method that combines Start() + signal handling + Stop()
func (e *Engine) Run(ctx context.Context) error {
	// Start the engine
	if err := e.Start(ctx); err != nil {
		return err
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Wait for either context cancellation or signal
	select {
	case <-ctx.Done():
		e.logger.Info("Context cancelled, shutting down...")
	case sig := <-sigChan:
		e.logger.Info("Received signal, shutting down...", "signal", sig)
	}

	// Graceful shutdown
	return e.Stop()
}

// Health returns the current health status
func (e *Engine) Health() HealthStatus {
	e.mu.Lock()
	workers := make(map[string]*Worker, len(e.workers))
	for jobType, w := range e.workers {
		workers[jobType] = w
	}
	e.mu.Unlock()

	status := HealthStatus{
		Healthy:        true,
		GatewayHealth:  make(map[string]error, len(workers)),
		Workers:        make(map[string]State, len(workers)),
		ActiveHandlers: e.gate.Active(),
		LastCheck:      time.Now(),
	}

	for jobType, w := range workers {
		state := w.State()
		status.Workers[jobType] = state
		if state == StateStopped {
			continue
		}
		err := w.Health()
		status.GatewayHealth[jobType] = err
		if err != nil {
			status.Healthy = false
		}
	}

	status.StatsHealth = e.stats.Health()
	if status.StatsHealth != nil {
		status.Healthy = false
	}

	return status
}

// Gate returns the drain gate shared by the engine's workers
func (e *Engine) Gate() *drain.Gate {
	return e.gate
}

// Worker returns the worker started for jobType
func (e *Engine) Worker(jobType string) (*Worker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[jobType]
	return w, ok
}

// ShutdownTimeout returns the drain bound applied by Stop
func (e *Engine) ShutdownTimeout() time.Duration {
	return e.config.ShutdownTimeout
}
