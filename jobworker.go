package jobworker

import (
	"context"
	"fmt"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/BranchIntl/jobworker/config"
	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways"
	"github.com/BranchIntl/jobworker/gateways/memory"
	"github.com/BranchIntl/jobworker/job"
	"github.com/BranchIntl/jobworker/registry"
	"github.com/BranchIntl/jobworker/statistics"
)

// Host is an engine assembled from configuration together with the
// registry and gateway factory it was built from
type Host struct {
	config   *config.Config
	engine   *core.Engine
	registry *registry.Registry
	factory  core.GatewayFactory
	logger   *slog.Logger
}

// Option is a function that modifies how a Host is built
type Option func(*options)

type options struct {
	registerer prom.Registerer
	store      *memory.Store
}

// WithRegisterer sets the registerer receiving prometheus collectors
func WithRegisterer(reg prom.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithStore backs memory gateways with store instead of a fresh one
func WithStore(store *memory.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// New builds a Host from cfg. Handlers are added with Register before Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Host, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	gatewayConfig := cfg.GatewayFactoryConfig()
	gatewayConfig.Store = o.store
	factory, err := gateways.NewFactory(gatewayConfig, logger)
	if err != nil {
		return nil, errors.NewConfigError("gateway.type", err)
	}

	statsConfig := cfg.StatisticsFactoryConfig()
	statsConfig.Registerer = o.registerer
	stats, err := statistics.NewStatistics(statsConfig)
	if err != nil {
		return nil, errors.NewConfigError("statistics.type", err)
	}

	reg := registry.NewRegistry()
	workerOptions := append(cfg.WorkerOptions(), core.WithLogger(logger))
	engine := core.NewEngine(factory, stats, reg, core.WithWorkerOptions(workerOptions...))

	return &Host{
		config:   cfg,
		engine:   engine,
		registry: reg,
		factory:  factory,
		logger:   logger,
	}, nil
}

// Register adds a handler for a job type
func (h *Host) Register(jobType string, handler core.Handler) error {
	return h.engine.Register(jobType, handler)
}

// Run starts a worker per registered job type and blocks until ctx is
// cancelled or the process is signalled, then drains and stops.
func (h *Host) Run(ctx context.Context) error {
	if len(h.registry.List()) == 0 {
		return fmt.Errorf("%w: no job types registered", errors.ErrHandlerNotFound)
	}
	return h.engine.Run(ctx)
}

// Enqueue submits j through a short-lived gateway session
func (h *Host) Enqueue(ctx context.Context, j job.Job) error {
	gateway, err := h.factory(j.GetType())
	if err != nil {
		return err
	}
	enqueuer, ok := gateway.(core.Enqueuer)
	if !ok {
		return errors.NewGatewayError("enqueue", j.GetType(),
			fmt.Errorf("%s gateway does not accept jobs", gateway.Type()))
	}

	if err := gateway.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			h.logger.Error("Error closing gateway", "error", err)
		}
	}()

	if err := enqueuer.Enqueue(ctx, j); err != nil {
		return err
	}
	h.logger.Info("Job enqueued", "type", j.GetType(), "key", j.GetKey())
	return nil
}

// Engine returns the underlying engine
func (h *Host) Engine() *core.Engine {
	return h.engine
}

// Config returns the configuration the host was built from
func (h *Host) Config() *config.Config {
	return h.config
}

// Work builds a Host from cfg, registers handlers and runs it
func Work(ctx context.Context, cfg *config.Config, handlers map[string]core.Handler, opts ...Option) error {
	host, err := New(cfg, nil, opts...)
	if err != nil {
		return err
	}
	for jobType, handler := range handlers {
		if err := host.Register(jobType, handler); err != nil {
			return fmt.Errorf("failed to register %q: %w", jobType, err)
		}
	}
	return host.Run(ctx)
}
