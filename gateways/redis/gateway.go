// Package redis provides a gateway that activates jobs from Redis lists.
//
// Pending jobs of a type live in the list "{namespace}queue:{type}". An
// activated job moves to the hash "{namespace}activated:{type}" until it is
// reported, and its deadline is kept in the sorted set
// "{namespace}deadlines:{type}". Each activation first puts the jobs whose
// deadline has passed back at the head of the queue. Failure reports, and
// messages that cannot be decoded, are appended to "{namespace}failed:{type}".
// Result variables of completed jobs are kept in the hash
// "{namespace}results:{type}" until a consumer removes them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	redisUtils "github.com/BranchIntl/jobworker/internal/redis"
	"github.com/BranchIntl/jobworker/job"
	jsonSerializer "github.com/BranchIntl/jobworker/serializers/json"
)

// UndecodableCode is the failure code of messages that cannot be decoded
const UndecodableCode = "undecodableJob"

// FailureEntry is the record appended to the failed list. Raw holds the
// original message when it could not be decoded into Job.
type FailureEntry struct {
	Job      *jsonSerializer.Message `json:"job,omitempty"`
	Raw      string                  `json:"raw,omitempty"`
	Code     string                  `json:"code"`
	Message  string                  `json:"message"`
	Worker   string                  `json:"worker,omitempty"`
	FailedAt time.Time               `json:"failed_at"`
}

// Gateway implements core.Gateway on Redis
type Gateway struct {
	mu         sync.RWMutex
	pool       *redis.Pool
	namespace  string
	options    Options
	serializer *jsonSerializer.Serializer
	logger     *slog.Logger
}

// NewGateway creates a new Redis gateway
func NewGateway(options Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		namespace:  options.Namespace,
		options:    options,
		serializer: jsonSerializer.NewSerializer(),
		logger:     logger.With("gateway", "redis"),
	}
}

// Connect creates the connection pool and checks that Redis answers
func (g *Gateway) Connect(ctx context.Context) error {
	pool := redisUtils.CreatePool(g.options.ConnectionOptions)

	if err := redisUtils.Ping(pool); err != nil {
		pool.Close()
		return errors.NewConnectionError(redisUtils.RedactURI(g.options.URI),
			fmt.Errorf("ping failed: %w", err))
	}

	g.mu.Lock()
	g.pool = pool
	g.mu.Unlock()

	return nil
}

// Close closes the Redis connection pool
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pool == nil {
		return nil
	}
	err := g.pool.Close()
	g.pool = nil
	return err
}

// Health checks the Redis connection health
func (g *Gateway) Health() error {
	pool, err := g.getPool()
	if err != nil {
		return err
	}

	if err := redisUtils.Ping(pool); err != nil {
		return errors.NewConnectionError(redisUtils.RedactURI(g.options.URI),
			fmt.Errorf("health check failed: %w", err))
	}

	return nil
}

// Type returns the gateway type
func (g *Gateway) Type() string {
	return "redis"
}

// Activate requeues expired activations, then moves up to req.MaxJobs
// pending jobs into the activated hash with a deadline req.Timeout from now
func (g *Gateway) Activate(ctx context.Context, req core.ActivateRequest) ([]job.Job, error) {
	pool, err := g.getPool()
	if err != nil {
		return nil, errors.NewGatewayError("activate", req.Type, err)
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewGatewayError("activate", req.Type, err)
	}
	defer conn.Close()

	now := time.Now()
	nowMillis, deadlineMillis := deadlineArgs(now, req.Timeout)
	messages, err := redis.ByteSlices(activateScript.Do(conn,
		g.queueKey(req.Type), g.activatedKey(req.Type), g.deadlinesKey(req.Type), g.failedKey(req.Type),
		req.MaxJobs, nowMillis, deadlineMillis, UndecodableCode))
	if err != nil {
		return nil, errors.NewGatewayError("activate", req.Type, err)
	}

	jobs := make([]job.Job, 0, len(messages))
	for _, data := range messages {
		j, err := g.decodeActivated(data, req, now)
		if err != nil {
			g.logger.Error("Moving undecodable job to failed list", "type", req.Type, "error", err)
			g.failUndecodable(conn, req, data, err)
			continue
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// decodeActivated decodes an activated message and stamps it for the
// requesting worker, keeping only the requested variables
func (g *Gateway) decodeActivated(data []byte, req core.ActivateRequest, now time.Time) (job.Job, error) {
	j, err := g.serializer.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return job.SelectVariables(job.Activated(j, req.Worker, now, req.Timeout), req.FetchVariables), nil
}

// failUndecodable moves an activated message that could not be decoded
// from the activated hash to the failed list
func (g *Gateway) failUndecodable(conn redis.Conn, req core.ActivateRequest, data []byte, decodeErr error) {
	var head struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Key == "" {
		g.logger.Error("Undecodable job has no key", "type", req.Type, "error", err)
		return
	}

	entry, err := json.Marshal(undecodableEntry(data, req.Worker, decodeErr, time.Now()))
	if err != nil {
		g.logger.Error("Failed to encode failure entry", "type", req.Type, "key", head.Key, "error", err)
		return
	}

	_, err = failScript.Do(conn,
		g.activatedKey(req.Type), g.deadlinesKey(req.Type), g.failedKey(req.Type), head.Key, entry)
	if err != nil {
		g.logger.Error("Failed to move undecodable job", "type", req.Type, "key", head.Key, "error", err)
	}
}

// Complete removes a job from the activated hash and stores its result
// variables
func (g *Gateway) Complete(ctx context.Context, j job.Job, variables json.RawMessage) error {
	return g.report(ctx, "complete", j, func(conn redis.Conn) (int, error) {
		return redis.Int(completeScript.Do(conn,
			g.activatedKey(j.GetType()), g.deadlinesKey(j.GetType()), g.resultsKey(j.GetType()),
			j.GetKey(), []byte(variables)))
	})
}

// Fail removes a job from the activated hash and records the failure
func (g *Gateway) Fail(ctx context.Context, j job.Job, errorCode, errorMessage string) error {
	message := jsonSerializer.ConstructMessage(j)
	entry, err := json.Marshal(FailureEntry{
		Job:      &message,
		Code:     errorCode,
		Message:  errorMessage,
		Worker:   j.GetMetadata().Worker,
		FailedAt: time.Now(),
	})
	if err != nil {
		return errors.NewSerializationError(g.serializer.GetFormat(), err)
	}

	return g.report(ctx, "fail", j, func(conn redis.Conn) (int, error) {
		return redis.Int(failScript.Do(conn,
			g.activatedKey(j.GetType()), g.deadlinesKey(j.GetType()), g.failedKey(j.GetType()),
			j.GetKey(), entry))
	})
}

// Release puts an activated job back at the head of its queue
func (g *Gateway) Release(ctx context.Context, j job.Job) error {
	return g.report(ctx, "release", j, func(conn redis.Conn) (int, error) {
		return redis.Int(releaseScript.Do(conn,
			g.activatedKey(j.GetType()), g.queueKey(j.GetType()), g.deadlinesKey(j.GetType()),
			j.GetKey()))
	})
}

// Enqueue appends a job to the queue of its type
func (g *Gateway) Enqueue(ctx context.Context, j job.Job) error {
	pool, err := g.getPool()
	if err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}

	data, err := g.serializer.Serialize(j)
	if err != nil {
		return err
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}
	defer conn.Close()

	if _, err := conn.Do("RPUSH", g.queueKey(j.GetType()), data); err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}

	// Add type to set of known types (best effort)
	if _, err := conn.Do("SADD", g.typesKey(), j.GetType()); err != nil {
		g.logger.Error("Failed to track job type", "type", j.GetType(), "error", err)
	}

	return nil
}

// QueueLength returns the number of pending jobs of a type
func (g *Gateway) QueueLength(ctx context.Context, jobType string) (int64, error) {
	pool, err := g.getPool()
	if err != nil {
		return 0, errors.NewGatewayError("queue_length", jobType, err)
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return 0, errors.NewGatewayError("queue_length", jobType, err)
	}
	defer conn.Close()

	length, err := redis.Int64(conn.Do("LLEN", g.queueKey(jobType)))
	if err != nil {
		return 0, errors.NewGatewayError("queue_length", jobType, err)
	}

	return length, nil
}

// Result returns the result variables a completed job was reported with
func (g *Gateway) Result(ctx context.Context, jobType, key string) (json.RawMessage, bool, error) {
	pool, err := g.getPool()
	if err != nil {
		return nil, false, errors.NewGatewayError("result", jobType, err)
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return nil, false, errors.NewGatewayError("result", jobType, err)
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("HGET", g.resultsKey(jobType), key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewGatewayError("result", jobType, err)
	}
	return data, true, nil
}

// report runs a report script; a zero result means the job is not activated
func (g *Gateway) report(ctx context.Context, op string, j job.Job, run func(redis.Conn) (int, error)) error {
	pool, err := g.getPool()
	if err != nil {
		return errors.NewGatewayError(op, j.GetType(), err)
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		return errors.NewGatewayError(op, j.GetType(), err)
	}
	defer conn.Close()

	n, err := run(conn)
	if err != nil {
		return errors.NewGatewayError(op, j.GetType(), err)
	}
	if n == 0 {
		return errors.NewGatewayError(op, j.GetType(), errors.ErrUnknownJob)
	}

	return nil
}

func (g *Gateway) getPool() (*redis.Pool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.pool == nil {
		return nil, errors.ErrNotConnected
	}
	return g.pool, nil
}

// Helper methods

func (g *Gateway) queueKey(jobType string) string {
	return fmt.Sprintf("%squeue:%s", g.namespace, jobType)
}

func (g *Gateway) activatedKey(jobType string) string {
	return fmt.Sprintf("%sactivated:%s", g.namespace, jobType)
}

func (g *Gateway) deadlinesKey(jobType string) string {
	return fmt.Sprintf("%sdeadlines:%s", g.namespace, jobType)
}

func (g *Gateway) resultsKey(jobType string) string {
	return fmt.Sprintf("%sresults:%s", g.namespace, jobType)
}

func (g *Gateway) failedKey(jobType string) string {
	return fmt.Sprintf("%sfailed:%s", g.namespace, jobType)
}

func (g *Gateway) typesKey() string {
	return fmt.Sprintf("%stypes", g.namespace)
}

// deadlineArgs returns now and the activation deadline in Unix
// milliseconds. A zero timeout gives a zero deadline, which never expires.
func deadlineArgs(now time.Time, timeout time.Duration) (int64, int64) {
	if timeout <= 0 {
		return now.UnixMilli(), 0
	}
	return now.UnixMilli(), now.Add(timeout).UnixMilli()
}

func undecodableEntry(data []byte, worker string, err error, failedAt time.Time) FailureEntry {
	return FailureEntry{
		Raw:      string(data),
		Code:     UndecodableCode,
		Message:  err.Error(),
		Worker:   worker,
		FailedAt: failedAt,
	}
}

var (
	_ core.Gateway  = (*Gateway)(nil)
	_ core.Releaser = (*Gateway)(nil)
	_ core.Enqueuer = (*Gateway)(nil)
)
