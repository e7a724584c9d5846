// Package rabbitmq provides a gateway that receives jobs from RabbitMQ
// queues, one durable queue per job type.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
	jsonSerializer "github.com/BranchIntl/jobworker/serializers/json"
)

// FailureEntry is the message published to a failure queue
type FailureEntry struct {
	Job      jsonSerializer.Message `json:"job"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	FailedAt time.Time              `json:"failed_at"`
}

// ResultEntry is the message published to a completed queue when a job
// completes with result variables
type ResultEntry struct {
	Job         jsonSerializer.Message `json:"job"`
	Variables   json.RawMessage        `json:"variables"`
	CompletedAt time.Time              `json:"completed_at"`
}

// errGatewayClosed stops reconnecting once Close was called
var errGatewayClosed = fmt.Errorf("%w: gateway closed", errors.ErrNotConnected)

// Gateway implements core.Gateway and core.Poller for RabbitMQ
type Gateway struct {
	connection     *amqp.Connection
	channel        *amqp.Channel
	generation     uint64
	options        Options
	serializer     *jsonSerializer.Serializer
	declaredQueues map[string]bool
	mu             sync.RWMutex
	isConnected    bool
	connectedOnce  bool
	closed         bool
	dial           func(uri string) (*amqp.Connection, error)
	logger         *slog.Logger
}

// NewGateway creates a new RabbitMQ gateway
func NewGateway(options Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		options:        options,
		serializer:     jsonSerializer.NewSerializer(),
		declaredQueues: make(map[string]bool),
		dial:           amqp.Dial,
		logger:         logger.With("gateway", "rabbitmq"),
	}
}

// Connect establishes the connection and channel
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = false
	return g.open()
}

// open dials the server and opens a channel. Each successful open starts a
// new channel generation. The caller holds the lock.
func (g *Gateway) open() error {
	uri := redactURI(g.options.URI)

	conn, err := g.dial(g.options.URI)
	if err != nil {
		return errors.NewConnectionError(uri, fmt.Errorf("failed to connect to RabbitMQ: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.NewConnectionError(uri, fmt.Errorf("failed to open channel: %w", err))
	}

	g.connection = conn
	g.channel = ch
	g.generation++
	g.declaredQueues = make(map[string]bool)
	g.isConnected = true
	g.connectedOnce = true

	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go g.watchClose(conn, notifyClose)

	return nil
}

// watchClose marks the gateway disconnected when the server drops conn.
// A nil error is a graceful close.
func (g *Gateway) watchClose(conn *amqp.Connection, notifyClose <-chan *amqp.Error) {
	err, ok := <-notifyClose
	if ok && err != nil {
		g.logger.Warn("Connection closed by server", "error", err)
	}

	g.mu.Lock()
	if g.connection == conn {
		g.isConnected = false
	}
	g.mu.Unlock()
}

// Close closes the channel and the connection. A closed gateway does not
// reconnect.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.isConnected = false
	if g.channel != nil {
		if err := g.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return errors.NewGatewayError("close", "", err)
		}
		g.channel = nil
	}
	if g.connection != nil {
		if err := g.connection.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return errors.NewGatewayError("close", "", err)
		}
		g.connection = nil
	}
	return nil
}

// Health checks the RabbitMQ connection health
func (g *Gateway) Health() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.isConnected || g.connection == nil || g.connection.IsClosed() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the gateway type
func (g *Gateway) Type() string {
	return "rabbitmq"
}

// Activate fetches up to req.MaxJobs messages with basic.get
func (g *Gateway) Activate(ctx context.Context, req core.ActivateRequest) ([]job.Job, error) {
	channel, generation, err := g.current()
	if err != nil {
		return nil, errors.NewGatewayError("activate", req.Type, err)
	}

	queue := g.queueName(req.Type)
	if err := g.ensureQueue(queue, g.options.Queue); err != nil {
		return nil, errors.NewGatewayError("activate", req.Type, err)
	}

	jobs := make([]job.Job, 0, req.MaxJobs)
	for len(jobs) < req.MaxJobs {
		if err := ctx.Err(); err != nil {
			break
		}

		delivery, ok, err := channel.Get(queue, false)
		if err != nil {
			return jobs, errors.NewGatewayError("activate", req.Type, err)
		}
		if !ok {
			break
		}

		if j := g.convertDelivery(delivery, req, generation); j != nil {
			jobs = append(jobs, j)
		}
	}

	return jobs, nil
}

// Start consumes the job type's queue and sends jobs to jobChan until ctx
// is cancelled. The consumer is then cancelled and every delivery that did
// not reach jobChan is requeued. The connection stays open.
//
// When the server drops the connection of a connected gateway, Start
// redials every ReconnectDelay and consumes again, unless ReconnectEnabled is off
// or the gateway was closed.
func (g *Gateway) Start(ctx context.Context, req core.ActivateRequest, jobChan chan<- job.Job) error {
	defer close(jobChan)

	for {
		generation, err := g.consume(ctx, req, jobChan)
		if ctx.Err() != nil {
			return nil
		}
		if !g.shouldReconnect() {
			return err
		}

		g.logger.Warn("RabbitMQ consumer lost its connection", "type", req.Type, "error", err)
		if err := g.reconnect(ctx, generation); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewGatewayError("consume", req.Type, err)
		}
	}
}

// consume runs one consumer on the current channel until ctx is done or
// the delivery channel closes. It returns the channel generation it used.
func (g *Gateway) consume(ctx context.Context, req core.ActivateRequest, jobChan chan<- job.Job) (uint64, error) {
	channel, generation, err := g.current()
	if err != nil {
		return generation, errors.NewGatewayError("consume", req.Type, err)
	}

	queue := g.queueName(req.Type)
	if err := g.ensureQueue(queue, g.options.Queue); err != nil {
		return generation, errors.NewGatewayError("consume", req.Type, err)
	}

	if err := channel.Qos(g.prefetch(req.MaxJobs), 0, false); err != nil {
		return generation, errors.NewGatewayError("consume", req.Type, fmt.Errorf("failed to set QoS: %w", err))
	}

	consumerTag := fmt.Sprintf("%s-%s", req.Worker, uuid.NewString())
	deliveries, err := channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return generation, errors.NewGatewayError("consume", req.Type, err)
	}

	g.logger.Info("RabbitMQ consumer started", "queue", queue, "consumer", consumerTag)

	for {
		select {
		case <-ctx.Done():
			g.stopConsumer(channel, consumerTag, deliveries)
			g.logger.Info("RabbitMQ consumer stopped", "queue", queue)
			return generation, nil
		case delivery, ok := <-deliveries:
			if !ok {
				g.logger.Warn("Delivery channel closed", "queue", queue)
				return generation, errors.NewGatewayError("consume", req.Type, errors.ErrNotConnected)
			}

			j := g.convertDelivery(delivery, req, generation)
			if j == nil {
				continue
			}

			select {
			case jobChan <- j:
				g.logger.Debug("Job sent to handlers", "type", req.Type, "key", j.GetKey())
			case <-ctx.Done():
				g.requeue(delivery)
				g.stopConsumer(channel, consumerTag, deliveries)
				g.logger.Info("RabbitMQ consumer stopped", "queue", queue)
				return generation, nil
			}
		}
	}
}

// shouldReconnect reports whether a lost connection is redialed
func (g *Gateway) shouldReconnect() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.options.ReconnectEnabled && g.connectedOnce && !g.closed
}

// reconnect redials every ReconnectDelay until the connection of
// generation is replaced, the gateway is closed or ctx is done
func (g *Gateway) reconnect(ctx context.Context, generation uint64) error {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.options.ReconnectDelay):
		}

		err := g.redial(generation)
		if err == nil {
			g.logger.Info("Reconnected to RabbitMQ", "attempt", attempt)
			return nil
		}
		if errors.Is(err, errGatewayClosed) {
			return err
		}
		g.logger.Warn("RabbitMQ reconnect failed", "attempt", attempt, "error", err)
	}
}

// redial replaces the connection of generation. A newer generation means
// the connection was already replaced.
func (g *Gateway) redial(generation uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errGatewayClosed
	}
	if g.generation != generation && g.isConnected {
		return nil
	}

	if g.channel != nil {
		_ = g.channel.Close()
		g.channel = nil
	}
	if g.connection != nil {
		_ = g.connection.Close()
		g.connection = nil
	}
	g.isConnected = false

	return g.open()
}

// stopConsumer cancels the consumer and requeues what was already
// delivered to it
func (g *Gateway) stopConsumer(channel *amqp.Channel, consumerTag string, deliveries <-chan amqp.Delivery) {
	if err := channel.Cancel(consumerTag, false); err != nil {
		g.logger.Error("Failed to cancel consumer", "consumer", consumerTag, "error", err)
		return
	}
	for delivery := range deliveries {
		g.requeue(delivery)
	}
}

func (g *Gateway) requeue(delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		g.logger.Error("Failed to requeue delivery", "error", err)
	}
}

// Complete acknowledges the delivery of a job. Result variables are first
// published to the job type's completed queue.
func (g *Gateway) Complete(ctx context.Context, j job.Job, variables json.RawMessage) error {
	if len(variables) == 0 {
		return g.settle("complete", j, func(channel *amqp.Channel, tag uint64) error {
			return channel.Ack(tag, false)
		})
	}

	body, err := json.Marshal(ResultEntry{
		Job:         jsonSerializer.ConstructMessage(j),
		Variables:   variables,
		CompletedAt: time.Now(),
	})
	if err != nil {
		return errors.NewSerializationError(g.serializer.GetFormat(), err)
	}

	completedQueue := g.completedQueueName(j.GetType())
	return g.settle("complete", j, func(channel *amqp.Channel, tag uint64) error {
		if err := g.publishEntry(ctx, channel, completedQueue, body, j.GetKey(), ""); err != nil {
			return err
		}
		return channel.Ack(tag, false)
	})
}

// Fail publishes a failure entry to the job type's failure queue and
// acknowledges the delivery
func (g *Gateway) Fail(ctx context.Context, j job.Job, errorCode, errorMessage string) error {
	body, err := json.Marshal(FailureEntry{
		Job:      jsonSerializer.ConstructMessage(j),
		Code:     errorCode,
		Message:  errorMessage,
		FailedAt: time.Now(),
	})
	if err != nil {
		return errors.NewSerializationError(g.serializer.GetFormat(), err)
	}

	failedQueue := g.failedQueueName(j.GetType())
	return g.settle("fail", j, func(channel *amqp.Channel, tag uint64) error {
		if err := g.publishEntry(ctx, channel, failedQueue, body, j.GetKey(), errorCode); err != nil {
			return err
		}
		return channel.Ack(tag, false)
	})
}

// publishEntry publishes a report entry to a durable side queue
func (g *Gateway) publishEntry(ctx context.Context, channel *amqp.Channel, queue string, body []byte, key, kind string) error {
	if err := g.ensureQueue(queue, QueueOptions{QueueType: g.options.Queue.QueueType}); err != nil {
		return err
	}
	return channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    key,
		Type:         kind,
	})
}

// Release requeues the delivery of a job
func (g *Gateway) Release(ctx context.Context, j job.Job) error {
	return g.settle("release", j, func(channel *amqp.Channel, tag uint64) error {
		return channel.Nack(tag, false, true)
	})
}

// Enqueue publishes a job to the queue of its type
func (g *Gateway) Enqueue(ctx context.Context, j job.Job) error {
	channel, err := g.getChannel()
	if err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}

	queue := g.queueName(j.GetType())
	if err := g.ensureQueue(queue, g.options.Queue); err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}

	data, err := g.serializer.Serialize(j)
	if err != nil {
		return err
	}

	err = channel.PublishWithContext(
		ctx,   // context
		"",    // exchange
		queue, // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    j.GetKey(),
		})
	if err != nil {
		return errors.NewGatewayError("enqueue", j.GetType(), err)
	}

	return nil
}

// settle runs a report against the delivery a job came from. Deliveries
// of an earlier channel generation were requeued by the server when that
// channel closed and cannot be settled.
func (g *Gateway) settle(op string, j job.Job, report func(*amqp.Channel, uint64) error) error {
	delivery, ok := j.(*Delivery)
	if !ok || delivery.tag == 0 {
		return errors.NewGatewayError(op, j.GetType(), errors.ErrUnknownJob)
	}

	channel, generation, err := g.current()
	if err != nil {
		return errors.NewGatewayError(op, j.GetType(), err)
	}
	if delivery.generation != generation {
		return errors.NewGatewayError(op, j.GetType(),
			fmt.Errorf("%w: delivery channel was closed", errors.ErrNotConnected))
	}

	if err := report(channel, delivery.tag); err != nil {
		return errors.NewGatewayError(op, j.GetType(), err)
	}
	return nil
}

// convertDelivery converts an AMQP delivery to an activated job keeping only
// the requested variables. Messages that cannot be decoded are rejected
// without requeue.
func (g *Gateway) convertDelivery(delivery amqp.Delivery, req core.ActivateRequest, generation uint64) job.Job {
	j, err := g.serializer.Deserialize(delivery.Body)
	if err != nil {
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			g.logger.Error("Failed to reject message after deserialization error", "error", nackErr)
		}
		g.logger.Error("Failed to deserialize job", "type", req.Type, "error", err)
		return nil
	}

	return &Delivery{
		Job:        job.SelectVariables(job.Activated(j, req.Worker, time.Now(), req.Timeout), req.FetchVariables),
		tag:        delivery.DeliveryTag,
		generation: generation,
	}
}

// getChannel returns the channel if connected, otherwise returns ErrNotConnected
func (g *Gateway) getChannel() (*amqp.Channel, error) {
	channel, _, err := g.current()
	return channel, err
}

// current returns the channel and its generation
func (g *Gateway) current() (*amqp.Channel, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.channel == nil || !g.isConnected {
		return nil, g.generation, errors.ErrNotConnected
	}
	return g.channel, g.generation, nil
}

// ensureQueue makes sure a queue is declared
func (g *Gateway) ensureQueue(name string, options QueueOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.channel == nil {
		return errors.ErrNotConnected
	}

	if g.declaredQueues[name] {
		return nil
	}

	args := buildQueueArgs(options)
	_, err := g.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	)
	if err != nil {
		return err
	}

	g.declaredQueues[name] = true
	return nil
}

var (
	_ core.Gateway  = (*Gateway)(nil)
	_ core.Poller   = (*Gateway)(nil)
	_ core.Releaser = (*Gateway)(nil)
	_ core.Enqueuer = (*Gateway)(nil)
)
