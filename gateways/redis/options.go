package redis

import (
	redisUtils "github.com/BranchIntl/jobworker/internal/redis"
)

// Options for the Redis gateway
type Options struct {
	redisUtils.ConnectionOptions

	// Namespace is the key prefix in Redis
	Namespace string
}

// DefaultOptions returns default Redis options
func DefaultOptions() Options {
	return Options{
		ConnectionOptions: redisUtils.DefaultConnectionOptions(),
		Namespace:         "jobworker:",
	}
}
