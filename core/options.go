package core

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BranchIntl/jobworker/errors"
)

// Config holds worker configuration
type Config struct {
	MaxJobsActive       int
	HandlerThreads      int
	PollInterval        time.Duration
	PollTimeout         time.Duration
	JobTimeout          time.Duration
	ShutdownTimeout     time.Duration
	HostShutdownTimeout time.Duration
	WorkerName          string
	FetchVariables      []string
	Logger              *slog.Logger
}

// WorkerOption is a function that modifies worker configuration
type WorkerOption func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		MaxJobsActive:   10,
		HandlerThreads:  1,
		PollInterval:    2 * time.Second,
		PollTimeout:     10 * time.Second,
		JobTimeout:      30 * time.Second,
		ShutdownTimeout: 35 * time.Second,
	}
}

// WithMaxJobsActive sets the maximum number of jobs held by a worker at once
func WithMaxJobsActive(n int) WorkerOption {
	return func(c *Config) {
		c.MaxJobsActive = n
	}
}

// WithHandlerThreads sets the number of goroutines running handlers
func WithHandlerThreads(n int) WorkerOption {
	return func(c *Config) {
		c.HandlerThreads = n
	}
}

// WithPollInterval sets the wait between polls that returned no jobs
func WithPollInterval(d time.Duration) WorkerOption {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithPollTimeout sets the timeout of a single activation request
func WithPollTimeout(d time.Duration) WorkerOption {
	return func(c *Config) {
		c.PollTimeout = d
	}
}

// WithJobTimeout sets how long an activated job stays locked to the worker
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(c *Config) {
		c.JobTimeout = d
	}
}

// WithShutdownTimeout sets the upper bound on waiting for active handlers
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithHostShutdownTimeout sets the host's own shutdown budget. When set, the
// shutdown timeout must be strictly smaller.
func WithHostShutdownTimeout(d time.Duration) WorkerOption {
	return func(c *Config) {
		c.HostShutdownTimeout = d
	}
}

// WithWorkerName overrides the name reported with activation requests
func WithWorkerName(name string) WorkerOption {
	return func(c *Config) {
		c.WorkerName = name
	}
}

// WithFetchVariables limits the variables fetched with each job
func WithFetchVariables(names ...string) WorkerOption {
	return func(c *Config) {
		c.FetchVariables = names
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// ValidateOptions reports the configuration error NewWorker would return
// for opts, without creating a worker
func ValidateOptions(opts ...WorkerOption) error {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return config.validate("")
}

// validate checks the configuration and fills derived defaults
func (c *Config) validate(jobType string) error {
	if c.HandlerThreads <= 0 {
		return errors.NewConfigError("HandlerThreads",
			fmt.Errorf("%w: handler threads must be positive, got %d", errors.ErrInvalidConfig, c.HandlerThreads))
	}
	if c.MaxJobsActive <= 0 {
		return errors.NewConfigError("MaxJobsActive",
			fmt.Errorf("%w: max jobs active must be positive, got %d", errors.ErrInvalidConfig, c.MaxJobsActive))
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"PollInterval", c.PollInterval},
		{"PollTimeout", c.PollTimeout},
		{"JobTimeout", c.JobTimeout},
		{"ShutdownTimeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.NewConfigError(d.field,
				fmt.Errorf("%w: must be positive, got %s", errors.ErrInvalidConfig, d.value))
		}
	}

	if c.HostShutdownTimeout < 0 {
		return errors.NewConfigError("HostShutdownTimeout",
			fmt.Errorf("%w: must not be negative, got %s", errors.ErrInvalidConfig, c.HostShutdownTimeout))
	}
	if c.HostShutdownTimeout > 0 && c.ShutdownTimeout >= c.HostShutdownTimeout {
		return errors.NewConfigError("ShutdownTimeout",
			fmt.Errorf("%w: shutdown timeout %s must be less than host shutdown timeout %s",
				errors.ErrInvalidConfig, c.ShutdownTimeout, c.HostShutdownTimeout))
	}

	if c.WorkerName == "" {
		c.WorkerName = defaultWorkerName(jobType)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// defaultWorkerName returns "{jobType}[{hostname}][{pid}]"
func defaultWorkerName(jobType string) string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s[%s][%d]", jobType, hostname, os.Getpid())
}
