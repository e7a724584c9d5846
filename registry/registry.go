// Package registry maps job types to their handlers.
package registry

import (
	"sort"
	"sync"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
)

// Registry is a thread-safe job handler registry
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]core.Handler
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]core.Handler),
	}
}

// Register adds a handler for a job type, replacing any previous one
func (r *Registry) Register(jobType string, handler core.Handler) error {
	if jobType == "" {
		return errors.ErrEmptyJobType
	}

	if handler == nil {
		return errors.ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[jobType] = handler
	return nil
}

// Get retrieves a handler by job type
func (r *Registry) Get(jobType string) (core.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[jobType]
	return handler, ok
}

// MustGet retrieves a handler by job type or returns ErrHandlerNotFound
func (r *Registry) MustGet(jobType string) (core.Handler, error) {
	handler, ok := r.Get(jobType)
	if !ok {
		return nil, errors.NewHandlerError(jobType, "", errors.ErrHandlerNotFound)
	}
	return handler, nil
}

// List returns all registered job types in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobTypes := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		jobTypes = append(jobTypes, jobType)
	}
	sort.Strings(jobTypes)

	return jobTypes
}

// Remove unregisters a handler
func (r *Registry) Remove(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, jobType)
}
