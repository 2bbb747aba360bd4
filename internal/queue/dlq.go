package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterQueueName    = "hls_conversions_dlq"
	DeadLetterExchangeName = "hlsbatch_dlq"
)

// setupDeadLetterQueue declares where failed requests are parked for an
// operator to inspect
func setupDeadLetterQueue(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(DeadLetterExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}
	if err := channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return nil
}

// deadLetter republishes msg to the dead letter queue with the failure
// reason and then settles the original. If the republish fails the original
// is rejected without requeue so the broker drops it instead of looping.
func (q *Queue) deadLetter(ctx context.Context, msg amqp.Delivery, reason string) {
	err := q.pub.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  msg.ContentType,
			MessageId:    msg.MessageId,
			Body:         msg.Body,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-failure-reason": reason,
				"x-failed-at":      time.Now().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		q.logger.ErrorWithErr("Failed to dead-letter request", err)
		msg.Nack(false, false)
		return
	}

	msg.Ack(false)
}

// DeadLetterDepth returns the number of parked requests
func (q *Queue) DeadLetterDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}
	return info.Messages, nil
}
