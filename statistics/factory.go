// Package statistics builds the statistics backends from configuration
package statistics

import (
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/statistics/noop"
	"github.com/BranchIntl/jobworker/statistics/prometheus"
	"github.com/BranchIntl/jobworker/statistics/resque"
)

// StatsType represents the type of statistics backend
type StatsType string

const (
	// Resque statistics type
	Resque StatsType = "resque"
	// Prometheus statistics type
	Prometheus StatsType = "prometheus"
	// NoOp statistics type
	NoOp StatsType = "noop"
)

// Config is a generic statistics configuration
type Config struct {
	Type StatsType

	// URI and Namespace configure the resque backend
	URI       string
	Namespace string

	// Registerer receives the prometheus collectors; the default
	// registerer is used when nil
	Registerer prom.Registerer
}

// NewStatistics creates a statistics backend based on the configuration
func NewStatistics(config Config) (core.Statistics, error) {
	switch config.Type {
	case Resque:
		opts := resque.DefaultOptions()
		if config.URI != "" {
			opts.URI = config.URI
		}
		if config.Namespace != "" {
			opts.Namespace = config.Namespace
		}
		return resque.NewStatistics(opts), nil

	case Prometheus:
		opts := prometheus.DefaultOptions()
		if config.Namespace != "" {
			opts.Namespace = config.Namespace
		}
		reg := config.Registerer
		if reg == nil {
			reg = prom.DefaultRegisterer
		}
		return prometheus.NewStatistics(reg, opts), nil

	case NoOp, "":
		return noop.NewStatistics(), nil

	default:
		return nil, fmt.Errorf("unknown statistics type: %s", config.Type)
	}
}
