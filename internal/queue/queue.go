package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
)

const (
	ConversionQueueName = "hls_conversions"
	ExchangeName        = "hlsbatch"
)

// ConversionRequest asks a worker to convert one source object
type ConversionRequest struct {
	RequestID   string    `json:"request_id"`
	Key         string    `json:"key"`
	RequestedAt time.Time `json:"requested_at"`
}

// Handler processes one request. A returned error moves the request to the
// dead letter queue; it is not redelivered.
type Handler func(ctx context.Context, req *ConversionRequest) error

// publisher is the subset of amqp.Channel used to publish
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Queue carries conversion requests between the API and workers
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pub     publisher
	logger  *logging.Logger
}

// URL renders the broker address for cfg
func URL(cfg config.QueueConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)
}

// New connects to RabbitMQ and declares the conversion and dead letter
// topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	conn, err := amqp.Dial(URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(channel); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &Queue{conn: conn, channel: channel, pub: channel, logger: logger}, nil
}

func declare(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(ConversionQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := channel.QueueBind(ConversionQueueName, ConversionQueueName, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return setupDeadLetterQueue(channel)
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publish enqueues a conversion request
func (q *Queue) Publish(ctx context.Context, req *ConversionRequest) error {
	if req.Key == "" {
		return errors.New("conversion request has no key")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = q.pub.PublishWithContext(ctx,
		ExchangeName,
		ConversionQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    req.RequestID,
			Body:         body,
			Timestamp:    req.RequestedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	return nil
}

// Consume delivers requests to handler one at a time until ctx is done or
// the channel closes
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(ConversionQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.handle(ctx, msg, handler)
		}
	}
}

// handle runs one delivery. Malformed and failed requests are parked in the
// dead letter queue and the original is acknowledged.
func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var req ConversionRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.Key == "" {
		if err == nil {
			err = errors.New("missing key")
		}
		q.logger.WarnWithErr("Discarding malformed conversion request", err)
		q.deadLetter(ctx, msg, "malformed request: "+err.Error())
		return
	}

	if err := handler(ctx, &req); err != nil {
		q.logger.WithSourceKey(req.Key).ErrorWithErr("Conversion request failed", err)
		q.deadLetter(ctx, msg, err.Error())
		return
	}

	if err := msg.Ack(false); err != nil {
		q.logger.WarnWithErr("Failed to acknowledge request", err)
	}
}

// Depth returns the number of requests waiting
func (q *Queue) Depth() (int, error) {
	info, err := q.channel.QueueInspect(ConversionQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}
