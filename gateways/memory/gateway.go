// Package memory provides an in-process gateway for local development
// and tests. Gateways created from the same Store see the same jobs.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Gateway is a connection handle to a Store
type Gateway struct {
	mu        sync.RWMutex
	store     *Store
	connected bool
}

// NewGateway creates a gateway backed by store
func NewGateway(store *Store) *Gateway {
	return &Gateway{store: store}
}

// Connect marks the gateway connected
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = true
	return nil
}

// Close disconnects the gateway. The store keeps its jobs.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = false
	return nil
}

// Health checks the gateway health
func (g *Gateway) Health() error {
	if !g.isConnected() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the gateway type
func (g *Gateway) Type() string {
	return "memory"
}

// Activate locks up to req.MaxJobs pending jobs of req.Type to the worker
func (g *Gateway) Activate(ctx context.Context, req core.ActivateRequest) ([]job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.isConnected() {
		return nil, errors.NewGatewayError("activate", req.Type, errors.ErrNotConnected)
	}

	jobs := g.store.activate(req.Type, req.Worker, req.MaxJobs, req.Timeout)
	for i, j := range jobs {
		jobs[i] = job.SelectVariables(j, req.FetchVariables)
	}
	return jobs, nil
}

// Complete reports a job as completed with the handler's result variables
func (g *Gateway) Complete(ctx context.Context, j job.Job, variables json.RawMessage) error {
	if !g.isConnected() {
		return errors.NewGatewayError("complete", j.GetType(), errors.ErrNotConnected)
	}
	if err := g.store.complete(j, variables); err != nil {
		return errors.NewGatewayError("complete", j.GetType(), err)
	}
	return nil
}

// Fail reports a job as failed
func (g *Gateway) Fail(ctx context.Context, j job.Job, errorCode, errorMessage string) error {
	if !g.isConnected() {
		return errors.NewGatewayError("fail", j.GetType(), errors.ErrNotConnected)
	}
	if err := g.store.fail(j, errorCode, errorMessage); err != nil {
		return errors.NewGatewayError("fail", j.GetType(), err)
	}
	return nil
}

// Release hands an activated job back for another worker
func (g *Gateway) Release(ctx context.Context, j job.Job) error {
	if !g.isConnected() {
		return errors.NewGatewayError("release", j.GetType(), errors.ErrNotConnected)
	}
	if err := g.store.release(j); err != nil {
		return errors.NewGatewayError("release", j.GetType(), err)
	}
	return nil
}

// Enqueue adds a job to the store
func (g *Gateway) Enqueue(ctx context.Context, j job.Job) error {
	if !g.isConnected() {
		return errors.NewGatewayError("enqueue", j.GetType(), errors.ErrNotConnected)
	}
	return g.store.Enqueue(ctx, j)
}

// Store returns the backing store
func (g *Gateway) Store() *Store {
	return g.store
}

func (g *Gateway) isConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

var (
	_ core.Gateway  = (*Gateway)(nil)
	_ core.Releaser = (*Gateway)(nil)
	_ core.Enqueuer = (*Gateway)(nil)
)
