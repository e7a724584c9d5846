package resque

import (
	redisUtils "github.com/BranchIntl/jobworker/internal/redis"
)

// Options for Resque statistics
type Options struct {
	redisUtils.ConnectionOptions

	// Namespace is the key prefix in Redis
	Namespace string
}

// DefaultOptions returns default Resque statistics options
func DefaultOptions() Options {
	return Options{
		ConnectionOptions: redisUtils.DefaultConnectionOptions(),
		Namespace:         "resque:",
	}
}
