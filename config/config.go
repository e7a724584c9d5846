// Package config loads the process configuration from a YAML file and
// environment variables.
//
// Values are applied in order: defaults, the YAML file, then variables
// prefixed with JOBWORKER_ (for example JOBWORKER_GATEWAY_URI or
// JOBWORKER_WORKER_SHUTDOWN_TIMEOUT=20s).
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways"
	"github.com/BranchIntl/jobworker/statistics"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "JOBWORKER_"

// Config is the main configuration structure
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway" envPrefix:"GATEWAY_"`
	Statistics StatisticsConfig `yaml:"statistics" envPrefix:"STATISTICS_"`
	Worker     WorkerConfig     `yaml:"worker" envPrefix:"WORKER_"`
	HTTP       HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
}

// GatewayConfig contains gateway-specific configuration
type GatewayConfig struct {
	Type           string        `yaml:"type" env:"TYPE"`
	URI            string        `yaml:"uri" env:"URI"`
	Namespace      string        `yaml:"namespace" env:"NAMESPACE"`
	MaxConnections int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	UseTLS         bool          `yaml:"use_tls" env:"USE_TLS"`
	QueuePrefix    string        `yaml:"queue_prefix" env:"QUEUE_PREFIX"`
	PrefetchCount  int           `yaml:"prefetch_count" env:"PREFETCH_COUNT"`
	QueueType      string        `yaml:"queue_type" env:"QUEUE_TYPE"`
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
}

// StatisticsConfig contains statistics-specific configuration
type StatisticsConfig struct {
	Type      string `yaml:"type" env:"TYPE"`
	URI       string `yaml:"uri" env:"URI"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// WorkerConfig contains the settings applied to every worker
type WorkerConfig struct {
	JobTypes            []string      `yaml:"job_types" env:"JOB_TYPES" envSeparator:","`
	MaxJobsActive       int           `yaml:"max_jobs_active" env:"MAX_JOBS_ACTIVE"`
	HandlerThreads      int           `yaml:"handler_threads" env:"HANDLER_THREADS"`
	PollInterval        time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	PollTimeout         time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	JobTimeout          time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	HostShutdownTimeout time.Duration `yaml:"host_shutdown_timeout" env:"HOST_SHUTDOWN_TIMEOUT"`
	Name                string        `yaml:"name" env:"NAME"`
	FetchVariables      []string      `yaml:"fetch_variables" env:"FETCH_VARIABLES" envSeparator:","`
}

// HTTPConfig contains the health and metrics endpoint configuration
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Type: string(gateways.Memory),
		},
		Statistics: StatisticsConfig{
			Type: string(statistics.NoOp),
		},
		Worker: WorkerConfig{
			MaxJobsActive:   10,
			HandlerThreads:  1,
			PollInterval:    2 * time.Second,
			PollTimeout:     10 * time.Second,
			JobTimeout:      30 * time.Second,
			ShutdownTimeout: 35 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.NewConfigError("env", fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && err != io.EOF {
		return errors.NewConfigError("file", fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err))
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch gateways.GatewayType(c.Gateway.Type) {
	case gateways.Memory, gateways.Redis, gateways.RabbitMQ:
	default:
		return invalid("gateway.type", "unsupported gateway %q", c.Gateway.Type)
	}

	switch statistics.StatsType(c.Statistics.Type) {
	case statistics.NoOp, statistics.Resque, statistics.Prometheus:
	default:
		return invalid("statistics.type", "unsupported statistics backend %q", c.Statistics.Type)
	}

	for _, jobType := range c.Worker.JobTypes {
		if strings.TrimSpace(jobType) == "" {
			return invalid("worker.job_types", "job type cannot be empty")
		}
	}

	if err := core.ValidateOptions(c.WorkerOptions()...); err != nil {
		return err
	}

	if _, err := c.Logging.level(); err != nil {
		return invalid("logging.level", "%v", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid("logging.format", "unsupported format %q", c.Logging.Format)
	}

	return nil
}

// WorkerOptions converts the worker settings into core options
func (c *Config) WorkerOptions() []core.WorkerOption {
	w := c.Worker
	opts := []core.WorkerOption{
		core.WithMaxJobsActive(w.MaxJobsActive),
		core.WithHandlerThreads(w.HandlerThreads),
		core.WithPollInterval(w.PollInterval),
		core.WithPollTimeout(w.PollTimeout),
		core.WithJobTimeout(w.JobTimeout),
		core.WithShutdownTimeout(w.ShutdownTimeout),
		core.WithHostShutdownTimeout(w.HostShutdownTimeout),
	}
	if w.Name != "" {
		opts = append(opts, core.WithWorkerName(w.Name))
	}
	if len(w.FetchVariables) > 0 {
		opts = append(opts, core.WithFetchVariables(w.FetchVariables...))
	}
	return opts
}

// GatewayFactoryConfig converts the gateway settings for gateways.NewFactory
func (c *Config) GatewayFactoryConfig() gateways.Config {
	g := c.Gateway
	return gateways.Config{
		Type:           gateways.GatewayType(g.Type),
		URI:            g.URI,
		Namespace:      g.Namespace,
		MaxConnections: g.MaxConnections,
		UseTLS:         g.UseTLS,
		QueuePrefix:    g.QueuePrefix,
		PrefetchCount:  g.PrefetchCount,
		QueueType:      g.QueueType,
		QueueSize:      g.QueueSize,
		ReconnectDelay: g.ReconnectDelay,
	}
}

// StatisticsFactoryConfig converts the statistics settings for
// statistics.NewStatistics
func (c *Config) StatisticsFactoryConfig() statistics.Config {
	return statistics.Config{
		Type:      statistics.StatsType(c.Statistics.Type),
		URI:       c.Statistics.URI,
		Namespace: c.Statistics.Namespace,
	}
}

// NewLogger creates the logger described by the logging settings
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Logging.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

func invalid(field, format string, args ...any) error {
	return errors.NewConfigError(field,
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)))
}
