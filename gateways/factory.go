// Package gateways builds the gateway backends from configuration
package gateways

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways/memory"
	"github.com/BranchIntl/jobworker/gateways/rabbitmq"
	"github.com/BranchIntl/jobworker/gateways/redis"
)

// GatewayType represents the type of gateway
type GatewayType string

const (
	// Memory gateway type
	Memory GatewayType = "memory"
	// Redis gateway type
	Redis GatewayType = "redis"
	// RabbitMQ gateway type
	RabbitMQ GatewayType = "rabbitmq"
)

// Config is a generic gateway configuration
type Config struct {
	Type GatewayType
	URI  string

	// Namespace is the Redis key prefix
	Namespace string
	// MaxConnections bounds the Redis pool
	MaxConnections int
	// UseTLS forces TLS on redis:// URIs
	UseTLS bool

	// QueuePrefix names the RabbitMQ queue of a job type
	QueuePrefix string
	// PrefetchCount overrides the RabbitMQ consumer prefetch
	PrefetchCount int
	// QueueType is the RabbitMQ queue type (classic, quorum)
	QueueType string
	// ReconnectDelay overrides the pause between RabbitMQ redials
	ReconnectDelay time.Duration

	// QueueSize bounds each in-memory queue
	QueueSize int
	// Store backs memory gateways; a new store is created when nil
	Store *memory.Store
}

// NewFactory returns a factory creating one gateway per worker session.
// An unknown type is rejected here rather than at worker start.
func NewFactory(config Config, logger *slog.Logger) (core.GatewayFactory, error) {
	switch config.Type {
	case Memory:
		store := config.Store
		if store == nil {
			opts := memory.DefaultOptions()
			if config.QueueSize > 0 {
				opts.QueueSize = config.QueueSize
			}
			store = memory.NewStore(opts)
		}
		return func(string) (core.Gateway, error) {
			return memory.NewGateway(store), nil
		}, nil

	case Redis:
		opts := redis.DefaultOptions()
		if config.URI != "" {
			opts.URI = config.URI
		}
		if config.Namespace != "" {
			opts.Namespace = config.Namespace
		}
		if config.MaxConnections > 0 {
			opts.MaxConnections = config.MaxConnections
		}
		opts.UseTLS = config.UseTLS
		return func(string) (core.Gateway, error) {
			return redis.NewGateway(opts, logger), nil
		}, nil

	case RabbitMQ:
		opts := rabbitmq.DefaultOptions()
		if config.URI != "" {
			opts.URI = config.URI
		}
		if config.QueuePrefix != "" {
			opts.QueuePrefix = config.QueuePrefix
		}
		opts.PrefetchCount = config.PrefetchCount
		opts.Queue.QueueType = config.QueueType
		if config.ReconnectDelay > 0 {
			opts.ReconnectDelay = config.ReconnectDelay
		}
		return func(string) (core.Gateway, error) {
			return rabbitmq.NewGateway(opts, logger), nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedGateway, config.Type)
	}
}
