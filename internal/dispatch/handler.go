package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/pkg/circuitbreaker"
	"medreminder/pkg/metrics"
	"medreminder/pkg/outbox"
	"medreminder/pkg/util"
)

const (
	defaultMaxRetries = 5
	dedupScope        = "dispatch"
)

// Sender 负责某个渠道的真实投递
type Sender interface {
	Channel() string
	Deliver(ctx context.Context, p mqcontracts.ReminderDispatchPayload) error
}

// DeadLetterPublisher 由 *mq.Publisher 实现
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error
}

// RetryPublisher 把消息放入延迟队列，到期后重新投递；由 *mq.Publisher 实现
type RetryPublisher interface {
	PublishDelayed(ctx context.Context, routingKey, messageID string, body []byte, delay time.Duration) error
}

// Handler 消费 reminder.dispatch 消息并按渠道投递
type Handler struct {
	senders      map[string]Sender
	breakers     map[string]*circuitbreaker.CircuitBreaker
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlq          DeadLetterPublisher
	retries      RetryPublisher
	backoff      *outbox.Backoff
	maxRetries   int64
	logger       *zap.Logger
}

func NewHandler(
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlq DeadLetterPublisher,
	logger *zap.Logger,
	senders ...Sender,
) *Handler {
	h := &Handler{
		senders:      make(map[string]Sender, len(senders)),
		breakers:     make(map[string]*circuitbreaker.CircuitBreaker, len(senders)),
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		maxRetries:   defaultMaxRetries,
		logger:       logger,
	}
	for _, s := range senders {
		h.Register(s, circuitbreaker.DefaultConfig())
	}
	return h
}

// Register 注册渠道，每个渠道独立熔断
func (h *Handler) Register(s Sender, cfg circuitbreaker.Config) {
	channel := strings.ToUpper(s.Channel())
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		h.logger.Warn("Circuit breaker state changed",
			zap.String("channel", channel),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = isChannelFailure
	}
	h.senders[channel] = s
	h.breakers[channel] = circuitbreaker.NewCircuitBreaker(cfg)
}

// isChannelFailure 只有可重试的错误说明渠道本身异常；地址错误、4xx 等只影响单条消息
func isChannelFailure(err error) bool {
	retryable, _ := util.IsRetryableError(err)
	return retryable
}

func (h *Handler) WithMaxRetries(n int64) *Handler {
	if n > 0 {
		h.maxRetries = n
	}
	return h
}

// WithRetryQueue 可重试的失败进入延迟队列，第 n 次等待 base*2^(n-1)，上限 16 倍 base。
// 未设置时直接 nack 重新入队。
func (h *Handler) WithRetryQueue(p RetryPublisher, base time.Duration) *Handler {
	h.retries = p
	h.backoff = outbox.NewBackoff(base)
	return h
}

// Handle 返回 error 表示需要 nack 重投；不可重试或超过重试次数的消息进入 DLQ 后返回 nil
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.ReminderDispatchPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal dispatch payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		h.deadLetter(ctx, raw, "unknown", err)
		return nil
	}

	if p.MessageID == "" {
		h.deadLetter(ctx, raw, p.Channel, fmt.Errorf("missing message_id"))
		return nil
	}

	channel := strings.ToUpper(p.Channel)
	if channel == "" {
		channel = mqcontracts.ChannelEmail
	}
	sender, ok := h.senders[channel]
	if !ok {
		h.logger.Error("No sender registered for channel",
			zap.String("channel", channel),
			zap.String("message_id", p.MessageID),
		)
		h.deadLetter(ctx, raw, channel, fmt.Errorf("unsupported channel %q", channel))
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, dedupScope, p.MessageID) {
		metrics.IncrementDispatch(channel, "duplicate")
		return nil
	}

	start := time.Now()
	err := h.breakers[channel].Execute(func() error {
		return sender.Deliver(ctx, p)
	})
	if err == nil {
		metrics.IncrementDispatch(channel, "sent")
		h.logger.Info("Reminder dispatched",
			zap.String("message_id", p.MessageID),
			zap.String("channel", channel),
			zap.Int64("notification_id", p.NotificationID),
			zap.Duration("duration", time.Since(start)),
		)
		_ = h.retryCounter.Reset(ctx, util.FormatRetryKey(dedupScope, p.MessageID))
		return nil
	}

	return h.handleFailure(ctx, raw, channel, p, err)
}

func (h *Handler) handleFailure(ctx context.Context, raw json.RawMessage, channel string, p mqcontracts.ReminderDispatchPayload, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Error("Failed to dispatch reminder",
		zap.String("message_id", p.MessageID),
		zap.String("channel", channel),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)

	retryKey := util.FormatRetryKey(dedupScope, p.MessageID)
	if !isRetryable {
		metrics.IncrementDispatch(channel, "dead_letter")
		h.deadLetter(ctx, raw, channel, err)
		_ = h.retryCounter.Reset(ctx, retryKey)
		h.releaseDedup(ctx, p.MessageID)
		return nil
	}

	retryCount, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		h.logger.Warn("Failed to get retry count, continuing anyway",
			zap.String("message_id", p.MessageID),
			zap.Error(cerr),
		)
		retryCount = 1
	}

	if !util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		h.logger.Error("Max retries exceeded, sending to DLQ",
			zap.String("message_id", p.MessageID),
			zap.Int64("retry_count", retryCount),
			zap.Int64("max_retries", h.maxRetries),
		)
		metrics.IncrementDispatch(channel, "dead_letter")
		h.deadLetter(ctx, raw, channel, err)
		_ = h.retryCounter.Reset(ctx, retryKey)
		h.releaseDedup(ctx, p.MessageID)
		return nil
	}

	// 先释放去重标记，让重投的消息可以再次处理
	h.releaseDedup(ctx, p.MessageID)
	metrics.IncrementDispatch(channel, "retry")

	if h.retries == nil {
		return err
	}
	delay := h.backoff.Step(int(retryCount))
	if perr := h.retries.PublishDelayed(ctx, mqcontracts.RoutingKeyReminderDispatch, p.MessageID, raw, delay); perr != nil {
		h.logger.Warn("Failed to schedule delayed retry, requeueing",
			zap.String("message_id", p.MessageID),
			zap.Error(perr),
		)
		return err
	}
	h.logger.Info("Dispatch retry scheduled",
		zap.String("message_id", p.MessageID),
		zap.Int64("retry_count", retryCount),
		zap.Duration("delay", delay),
	)
	return nil
}

// releaseDedup 死信或重投后，回放或重投的同一消息需要能再次处理
func (h *Handler) releaseDedup(ctx context.Context, messageID string) {
	if err := h.deduper.Release(ctx, dedupScope, messageID); err != nil {
		h.logger.Warn("Failed to release dedup key",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

func (h *Handler) deadLetter(ctx context.Context, raw json.RawMessage, channel string, cause error) {
	if h.dlq == nil {
		return
	}
	failedAt := time.Now().UTC().Format(time.RFC3339)
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingKeyReminderDispatch, raw, cause.Error(), failedAt); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
