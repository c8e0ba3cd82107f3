package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"

	// traceHeader 消息头中携带 trace_id 的字段
	traceHeader = "x-trace-id"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// traceIDFromHeaders extracts the trace id set by the publisher, if any.
func traceIDFromHeaders(headers amqp091.Table) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[traceHeader].(string); ok {
		return v
	}
	return ""
}
