package mq

import (
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestTraceIDFromHeaders(t *testing.T) {
	assert.Equal(t, "", traceIDFromHeaders(nil))
	assert.Equal(t, "", traceIDFromHeaders(amqp091.Table{traceHeader: 42}))
	assert.Equal(t, "t-1", traceIDFromHeaders(amqp091.Table{traceHeader: "t-1"}))
}

func TestRetryQueueName(t *testing.T) {
	assert.Equal(t, "reminder.dispatch.retry.10000ms", RetryQueueName("reminder.dispatch", 10*time.Second))
	assert.Equal(t, "reminder.dispatch.retry.1500ms", RetryQueueName("reminder.dispatch", 1500*time.Millisecond))
}

func TestRetryQueueArgs_DeadLetterBackToEvents(t *testing.T) {
	args := retryQueueArgs("reminder.dispatch", 20*time.Second)
	assert.Equal(t, int64(20000), args["x-message-ttl"])
	assert.Equal(t, ExchangeName, args["x-dead-letter-exchange"])
	assert.Equal(t, "reminder.dispatch", args["x-dead-letter-routing-key"])
}
