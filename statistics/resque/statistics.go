// Package resque records worker and job statistics in Redis using the
// Resque key layout, so Resque dashboards can read the counters.
package resque

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	redisUtils "github.com/BranchIntl/jobworker/internal/redis"
	"github.com/BranchIntl/jobworker/job"
)

// ResqueStatistics implements the Statistics interface for Resque
type ResqueStatistics struct {
	mu        sync.RWMutex
	pool      *redis.Pool
	namespace string
	options   Options
}

// NewStatistics creates a new Resque statistics backend
func NewStatistics(options Options) *ResqueStatistics {
	return &ResqueStatistics{
		namespace: options.Namespace,
		options:   options,
	}
}

// Connect establishes connection to Redis
func (r *ResqueStatistics) Connect(ctx context.Context) error {
	pool := redisUtils.CreatePool(r.options.ConnectionOptions)

	if err := redisUtils.Ping(pool); err != nil {
		pool.Close()
		return errors.NewConnectionError(redisUtils.RedactURI(r.options.URI),
			fmt.Errorf("ping failed: %w", err))
	}

	r.mu.Lock()
	r.pool = pool
	r.mu.Unlock()

	return nil
}

// Close closes the Redis connection pool
func (r *ResqueStatistics) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool == nil {
		return nil
	}
	err := r.pool.Close()
	r.pool = nil
	return err
}

// Health checks the Redis connection health
func (r *ResqueStatistics) Health() error {
	pool, err := r.getPool()
	if err != nil {
		return err
	}

	if err := redisUtils.Ping(pool); err != nil {
		return errors.NewConnectionError(redisUtils.RedactURI(r.options.URI),
			fmt.Errorf("health check failed: %w", err))
	}

	return nil
}

// Type returns the statistics backend type
func (r *ResqueStatistics) Type() string {
	return "resque"
}

// RegisterWorker registers a worker in Redis
func (r *ResqueStatistics) RegisterWorker(ctx context.Context, worker core.WorkerInfo) error {
	workerData, err := json.Marshal(worker)
	if err != nil {
		return fmt.Errorf("failed to marshal worker info: %w", err)
	}

	return r.transaction(ctx, func(conn redis.Conn) {
		conn.Send("SADD", r.workersKey(), worker.ID)
		conn.Send("SET", r.workerKey(worker.ID), workerData)
		conn.Send("SET", r.statProcessedKey(worker.ID), "0")
		conn.Send("SET", r.statFailedKey(worker.ID), "0")
		conn.Send("SET", r.workerStartedKey(worker.ID), worker.Started.Format(time.RFC3339))
	})
}

// UnregisterWorker removes a worker from Redis
func (r *ResqueStatistics) UnregisterWorker(ctx context.Context, workerID string) error {
	return r.transaction(ctx, func(conn redis.Conn) {
		conn.Send("SREM", r.workersKey(), workerID)
		conn.Send("DEL",
			r.workerKey(workerID),
			r.statProcessedKey(workerID),
			r.statFailedKey(workerID),
			r.workerStartedKey(workerID),
			r.workerJobsKey(workerID),
		)
	})
}

// RecordJobStarted records the job in the worker's in-progress hash
func (r *ResqueStatistics) RecordJobStarted(ctx context.Context, j job.Job, worker core.WorkerInfo) error {
	workData, err := json.Marshal(map[string]any{
		"type":     j.GetType(),
		"run_at":   time.Now().Format(time.RFC3339),
		"deadline": j.GetMetadata().Deadline,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal work data: %w", err)
	}

	return r.transaction(ctx, func(conn redis.Conn) {
		conn.Send("HSET", r.workerJobsKey(worker.ID), j.GetKey(), workData)
	})
}

// RecordJobCompleted records successful job completion
func (r *ResqueStatistics) RecordJobCompleted(ctx context.Context, j job.Job, worker core.WorkerInfo, duration time.Duration) error {
	return r.transaction(ctx, func(conn redis.Conn) {
		conn.Send("INCR", r.statProcessedKey(""))
		conn.Send("INCR", r.statProcessedKey(worker.ID))
		conn.Send("HDEL", r.workerJobsKey(worker.ID), j.GetKey())
	})
}

// RecordJobFailed records job failure
func (r *ResqueStatistics) RecordJobFailed(ctx context.Context, j job.Job, worker core.WorkerInfo, err error, duration time.Duration) error {
	return r.transaction(ctx, func(conn redis.Conn) {
		conn.Send("INCR", r.statFailedKey(""))
		conn.Send("INCR", r.statFailedKey(worker.ID))
		conn.Send("HDEL", r.workerJobsKey(worker.ID), j.GetKey())
	})
}

// RecordDrain stores the result of the last drain wait and counts drains
// that timed out
func (r *ResqueStatistics) RecordDrain(duration time.Duration, drained bool, remaining int64) {
	err := r.transaction(context.Background(), func(conn redis.Conn) {
		conn.Send("HSET", r.drainKey(),
			"duration_ms", duration.Milliseconds(),
			"drained", strconv.FormatBool(drained),
			"remaining", remaining,
			"at", time.Now().Format(time.RFC3339),
		)
		conn.Send("INCR", r.statDrainsKey(drained))
	})
	if err != nil {
		slog.Error("Failed to record drain", "error", err)
	}
}

// Processed returns the total number of completed jobs
func (r *ResqueStatistics) Processed(ctx context.Context) (int64, error) {
	return r.counter(ctx, r.statProcessedKey(""))
}

// Failed returns the total number of failed jobs
func (r *ResqueStatistics) Failed(ctx context.Context) (int64, error) {
	return r.counter(ctx, r.statFailedKey(""))
}

func (r *ResqueStatistics) counter(ctx context.Context, key string) (int64, error) {
	pool, err := r.getPool()
	if err != nil {
		return 0, err
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := redis.Int64(conn.Do("GET", key))
	if err == redis.ErrNil {
		return 0, nil
	}
	return n, err
}

// transaction sends the commands queued by send in one MULTI/EXEC block
func (r *ResqueStatistics) transaction(ctx context.Context, send func(redis.Conn)) error {
	pool, err := r.getPool()
	if err != nil {
		return err
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Send("MULTI")
	send(conn)
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}

	return nil
}

func (r *ResqueStatistics) getPool() (*redis.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}
	return r.pool, nil
}

// Helper methods for Redis keys

func (r *ResqueStatistics) workerKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s", r.namespace, workerID)
}

func (r *ResqueStatistics) workersKey() string {
	return fmt.Sprintf("%sworkers", r.namespace)
}

func (r *ResqueStatistics) statProcessedKey(workerID string) string {
	if workerID == "" {
		return fmt.Sprintf("%sstat:processed", r.namespace)
	}
	return fmt.Sprintf("%sstat:processed:%s", r.namespace, workerID)
}

func (r *ResqueStatistics) statFailedKey(workerID string) string {
	if workerID == "" {
		return fmt.Sprintf("%sstat:failed", r.namespace)
	}
	return fmt.Sprintf("%sstat:failed:%s", r.namespace, workerID)
}

func (r *ResqueStatistics) statDrainsKey(drained bool) string {
	if drained {
		return fmt.Sprintf("%sstat:drains", r.namespace)
	}
	return fmt.Sprintf("%sstat:drain_timeouts", r.namespace)
}

func (r *ResqueStatistics) workerStartedKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s:started", r.namespace, workerID)
}

func (r *ResqueStatistics) workerJobsKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s:jobs", r.namespace, workerID)
}

func (r *ResqueStatistics) drainKey() string {
	return fmt.Sprintf("%sdrain:last", r.namespace)
}

var _ core.Statistics = (*ResqueStatistics)(nil)
