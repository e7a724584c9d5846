package rabbitmq

import (
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/BranchIntl/jobworker/job"
)

// Delivery is a job received from RabbitMQ. Reports on it acknowledge the
// delivery it came from, which is only possible on the channel that
// delivered it.
type Delivery struct {
	job.Job
	tag        uint64
	generation uint64
}

// DeliveryTag returns the AMQP delivery tag
func (d *Delivery) DeliveryTag() uint64 {
	return d.tag
}

// buildQueueArgs creates the AMQP arguments table from options
func buildQueueArgs(options QueueOptions) amqp.Table {
	args := amqp.Table{}

	if options.MessageTTL > 0 {
		args["x-message-ttl"] = int64(options.MessageTTL / time.Millisecond)
	}

	if options.DeadLetterQueue != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = options.DeadLetterQueue
	}

	if options.DeliveryLimit > 0 {
		args["x-delivery-limit"] = options.DeliveryLimit
	}

	if options.QueueType != "" {
		args["x-queue-type"] = options.QueueType
	}

	return args
}

func (g *Gateway) queueName(jobType string) string {
	return g.options.QueuePrefix + jobType
}

func (g *Gateway) failedQueueName(jobType string) string {
	return g.queueName(jobType) + g.options.FailedSuffix
}

func (g *Gateway) completedQueueName(jobType string) string {
	return g.queueName(jobType) + g.options.CompletedSuffix
}

// prefetch returns the consumer prefetch for a worker activating maxJobs
func (g *Gateway) prefetch(maxJobs int) int {
	if g.options.PrefetchCount > 0 {
		return g.options.PrefetchCount
	}
	return maxJobs
}

// redactURI hides the password of an AMQP URI so it can be logged
func redactURI(raw string) string {
	uri, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return uri.Redacted()
}
