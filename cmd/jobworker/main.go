// Command jobworker hosts job workers and stops them gracefully.
//
// Subcommands:
//
//	run      start a worker for each configured job type, with the HTTP
//	         endpoints for health and metrics
//	enqueue  submit jobs to the configured gateway
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/BranchIntl/jobworker"
	"github.com/BranchIntl/jobworker/config"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways"
	"github.com/BranchIntl/jobworker/job"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "jobworker",
		Short:         "Job worker with graceful shutdown",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		runCmd(&configPath),
		enqueueCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runCmd(configPath *string) *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the workers and the HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.Worker.JobTypes) == 0 {
				return fmt.Errorf("no job types configured (set worker.job_types or %sWORKER_JOB_TYPES)", config.EnvPrefix)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			host, err := jobworker.New(cfg, logger, jobworker.WithRegisterer(reg))
			if err != nil {
				return err
			}
			for _, jobType := range cfg.Worker.JobTypes {
				if err := host.Register(jobType, sleepHandler(delay, logger)); err != nil {
					return err
				}
			}

			ctx, stop := jobworker.NotifyContext(cmd.Context())
			defer stop()

			return serve(ctx, host, reg, cfg.HTTP.Addr, logger)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 5*time.Second, "handler duration for jobs without a sleep variable")
	return cmd
}

// serve runs the host and, when addr is set, the HTTP endpoints. The HTTP
// server stays up until the workers have drained.
func serve(ctx context.Context, host *jobworker.Host, gatherer prometheus.Gatherer, addr string, logger *slog.Logger) error {
	if addr == "" {
		return host.Run(ctx)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(host.Engine(), gatherer),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	runErr := host.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := <-serverErr; err != nil && runErr == nil {
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("HTTP server stopped")
	return runErr
}

func enqueueCmd(configPath *string) *cobra.Command {
	var (
		variables string
		count     int
	)

	cmd := &cobra.Command{
		Use:   "enqueue TYPE",
		Short: "Submit jobs of the given type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := checkEnqueueGateway(cfg); err != nil {
				return err
			}
			host, err := jobworker.New(cfg, logger)
			if err != nil {
				return err
			}

			var vars any
			if variables != "" {
				if !json.Valid([]byte(variables)) {
					return errors.New("--vars is not valid JSON")
				}
				vars = json.RawMessage(variables)
			}

			for i := 0; i < count; i++ {
				j, err := job.New(args[0], vars)
				if err != nil {
					return err
				}
				if err := host.Enqueue(cmd.Context(), j); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), j.GetKey())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variables, "vars", "", `job variables as JSON, e.g. '{"sleep":"20s"}'`)
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of jobs to submit")
	return cmd
}

// checkEnqueueGateway rejects gateways whose jobs do not outlive the
// enqueue process
func checkEnqueueGateway(cfg *config.Config) error {
	if gateways.GatewayType(cfg.Gateway.Type) == gateways.Memory {
		return fmt.Errorf("%w: enqueue needs a shared gateway, the memory gateway lives only in this process (set gateway.type or %sGATEWAY_TYPE)",
			errors.ErrUnsupportedGateway, config.EnvPrefix)
	}
	return nil
}
