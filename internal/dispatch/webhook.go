package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/pkg/trace"
	"medreminder/pkg/util"
)

// WebhookSender 把提醒以 JSON POST 到外部地址，重试交给 MQ
type WebhookSender struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

func NewWebhookSender(url string, timeout time.Duration, logger *zap.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSender{httpClient: client, url: url, logger: logger}
}

func (s *WebhookSender) Channel() string { return mqcontracts.ChannelWebhook }

func (s *WebhookSender) Deliver(ctx context.Context, p mqcontracts.ReminderDispatchPayload) error {
	req := s.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Message-ID", p.MessageID).
		SetBody(p)
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.SetHeader(trace.HeaderName(), traceID)
	}

	resp, err := req.Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return &util.StatusError{Endpoint: "webhook", Code: resp.StatusCode()}
	}

	s.logger.Info("Webhook delivered",
		zap.String("message_id", p.MessageID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
