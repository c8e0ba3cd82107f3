package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"medreminder/pkg/metrics"
)

// Publisher 由 *mq.Publisher 实现
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey, messageID string, body []byte) error
}

// Store 是 Dispatcher 需要的 outbox 操作
type Store interface {
	ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, event *Event, cause error, maxRetries int, backoff *Backoff) (string, error)
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	backoff    *Backoff
	maxRetries int
	interval   time.Duration
	batchSize  int
	lease      time.Duration
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		backoff:    NewBackoff(5 * time.Second),
		maxRetries: 5,
		interval:   1 * time.Second,
		batchSize:  100,
		lease:      30 * time.Second,
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithBackoff 设置重试退避策略
func (d *Dispatcher) WithBackoff(b *Backoff) *Dispatcher {
	if b != nil {
		d.backoff = b
	}
	return d
}

// Start 阻塞运行直到 ctx 取消
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce 处理一批待发送事件，返回成功发布的数量
func (d *Dispatcher) ProcessOnce(ctx context.Context) int {
	events, err := d.store.ClaimPendingEvents(ctx, d.batchSize, d.lease)
	if err != nil {
		d.logger.Error("Failed to claim pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	d.logger.Debug("Processing pending events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		if err := d.publishEvent(ctx, event); err != nil {
			status, markErr := d.store.MarkAsFailed(ctx, event, err, d.maxRetries, d.backoff)
			if markErr != nil {
				d.logger.Error("Failed to mark event as failed",
					zap.Int64("event_id", event.ID),
					zap.Error(markErr),
				)
				continue
			}

			if status == StatusFailed {
				metrics.IncrementOutboxPublish("failed")
				d.logger.Error("Event moved to dead letter after max retries",
					zap.Int64("event_id", event.ID),
					zap.String("routing_key", event.RoutingKey),
					zap.Int("retry_count", event.RetryCount),
					zap.Error(err),
				)
			} else {
				metrics.IncrementOutboxPublish("retry")
				d.logger.Warn("Failed to publish event, will retry",
					zap.Int64("event_id", event.ID),
					zap.String("routing_key", event.RoutingKey),
					zap.Int("retry_count", event.RetryCount),
					zap.Error(err),
				)
			}
			continue
		}

		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			// 已发布但未标记，下一次领取会重复发布，由消费端按 message_id 去重
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}

		sent++
		metrics.IncrementOutboxPublish("sent")
		d.logger.Debug("Event published successfully",
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
		)
	}

	return sent
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	ctx = extractTraceIDFromPayload(ctx, event.Payload)
	return d.publisher.PublishRaw(ctx, event.RoutingKey, event.MessageID, event.Payload)
}
