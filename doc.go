// Package jobworker runs job handlers against a job distribution service
// and shuts down without abandoning jobs that are already being handled.
//
// When the host is asked to stop, each worker stops activating new jobs at
// once. Handlers that are already running keep going and still report
// their outcome; the worker waits for them on a shared drain gate, bounded
// by the configured shutdown timeout.
//
// Supported gateways:
//   - memory (in-process, for development and tests)
//   - redis
//   - rabbitmq
//
// Supported statistics backends:
//   - noop
//   - prometheus
//   - resque
//
// # Example
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"time"
//
//		"github.com/BranchIntl/jobworker"
//		"github.com/BranchIntl/jobworker/config"
//		"github.com/BranchIntl/jobworker/job"
//	)
//
//	func main() {
//		cfg, err := config.Load("jobworker.yaml")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		host, err := jobworker.New(cfg, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		host.Register("payment", func(ctx context.Context, j job.Job) (any, error) {
//			time.Sleep(5 * time.Second)
//			return map[string]any{"paid": true}, nil
//		})
//
//		// Blocks until SIGINT/SIGTERM, then drains running handlers.
//		if err := host.Run(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Handler Context
//
// The context passed to a handler is not cancelled by shutdown. A handler
// that must give up early should watch its own deadline.
//
// # Result Variables
//
// A handler may return variables with its success. They are marshaled to
// JSON and sent with the completion report; a nil result sends none. When
// the result cannot be marshaled the job is reported as failed instead.
//
// # Configuration
//
// Without a file, configuration comes from defaults and JOBWORKER_
// environment variables:
//
//	JOBWORKER_GATEWAY_TYPE=redis
//	JOBWORKER_GATEWAY_URI=redis://localhost:6379/
//	JOBWORKER_WORKER_SHUTDOWN_TIMEOUT=35s
//	JOBWORKER_WORKER_HOST_SHUTDOWN_TIMEOUT=40s
//
// The library can also be used without this package:
//
//	engine := core.NewEngine(
//		factory,
//		stats,
//		registry.NewRegistry(),
//		core.WithWorkerOptions(
//			core.WithHandlerThreads(4),
//			core.WithShutdownTimeout(20*time.Second),
//		),
//	)
package jobworker
