package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"medreminder/pkg/trace"
)

// RetryQueueName returns the delay queue for routingKey, one queue per delay so
// that per-queue TTL expires messages in order.
func RetryQueueName(routingKey string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%dms", routingKey, delay.Milliseconds())
}

// retryQueueArgs makes expired messages dead-letter back to the events exchange
// under the original routing key.
func retryQueueArgs(routingKey string, delay time.Duration) amqp091.Table {
	return amqp091.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": routingKey,
	}
}

// DeclareRetryQueue declares the delay queue for routingKey and delay.
func DeclareRetryQueue(ch *amqp091.Channel, routingKey string, delay time.Duration) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		RetryQueueName(routingKey, delay),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		retryQueueArgs(routingKey, delay),
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare retry queue: %w", err)
	}
	return q, nil
}

// PublishDelayed parks body in a delay queue; RabbitMQ republishes it to the
// events exchange with routingKey once delay has passed.
func (p *Publisher) PublishDelayed(ctx context.Context, routingKey, messageID string, body []byte, delay time.Duration) error {
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[traceHeader] = traceID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	name := RetryQueueName(routingKey, delay)
	if !p.retryQueues[name] {
		if _, err := DeclareRetryQueue(p.channel, routingKey, delay); err != nil {
			return err
		}
		p.retryQueues[name] = true
	}

	return p.channel.PublishWithContext(
		ctx,
		"", // default exchange routes by queue name
		name,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

const defaultReplayLimit = 100

// ReplayDLQ moves up to limit messages from the dead letter queue of routingKey
// back to the events exchange. It returns how many were moved. The limit is
// always bounded because replayed messages may dead-letter again.
func (p *Publisher) ReplayDLQ(ctx context.Context, routingKey string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultReplayLimit
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	q, err := DeclareDLQQueue(p.channel, routingKey)
	if err != nil {
		return 0, err
	}

	moved := 0
	for moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		d, ok, err := p.channel.Get(q.Name, false)
		if err != nil {
			return moved, fmt.Errorf("failed to get from %s: %w", q.Name, err)
		}
		if !ok {
			break
		}

		headers := amqp091.Table{"x-replayed-from": q.Name}
		if traceID := traceIDFromHeaders(d.Headers); traceID != "" {
			headers[traceHeader] = traceID
		}
		err = p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp091.Publishing{
			ContentType:  "application/json",
			Body:         d.Body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    time.Now(),
			Headers:      headers,
		})
		if err != nil {
			_ = d.Nack(false, true)
			return moved, fmt.Errorf("failed to republish dead letter: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return moved, fmt.Errorf("failed to ack dead letter: %w", err)
		}
		moved++
	}
	return moved, nil
}
