package memory

// Options for the in-memory gateway
type Options struct {
	// QueueSize is the maximum number of pending jobs per job type
	QueueSize int
}

// DefaultOptions returns default in-memory options
func DefaultOptions() Options {
	return Options{
		QueueSize: 1000,
	}
}
