package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/pkg/outbox"
	"medreminder/pkg/trace"
)

var ErrNoRecipients = errors.New("message has no deliverable recipient")

// Message 是一条待投递的提醒
type Message struct {
	ID         string
	Subject    string
	Recipients []string
	Text       string
	HTML       string

	NotificationID int64
	RecipientID    int64
	ItemType       string
	ItemID         int64
	Kind           string
}

// Gateway 异步投递：Send 只负责入队，不等待真实发送
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// TxGateway 返回绑定到某个事务的 Gateway
type TxGateway interface {
	WithTx(tx outbox.DBTX) Gateway
}

// OutboxGateway 把消息写入 outbox，与提醒记录在同一事务中提交
type OutboxGateway struct {
	repo    *outbox.Repository
	channel string
	logger  *zap.Logger
}

func NewOutboxGateway(repo *outbox.Repository, channel string, logger *zap.Logger) *OutboxGateway {
	if channel == "" {
		channel = mqcontracts.ChannelEmail
	}
	return &OutboxGateway{repo: repo, channel: strings.ToUpper(channel), logger: logger}
}

func (g *OutboxGateway) WithTx(tx outbox.DBTX) Gateway {
	return &txGateway{parent: g, tx: tx}
}

type txGateway struct {
	parent *OutboxGateway
	tx     outbox.DBTX
}

func (g *txGateway) Send(ctx context.Context, msg Message) error {
	recipients := cleanRecipients(msg.Recipients)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	payload := mqcontracts.ReminderDispatchPayload{
		MessageID:      msg.ID,
		TraceID:        trace.FromContext(ctx),
		Channel:        g.parent.channel,
		NotificationID: msg.NotificationID,
		RecipientID:    msg.RecipientID,
		To:             recipients,
		Subject:        msg.Subject,
		Text:           msg.Text,
		HTML:           msg.HTML,
		ItemType:       msg.ItemType,
		ItemID:         msg.ItemID,
		Kind:           msg.Kind,
		CreatedAt:      time.Now().UTC(),
	}

	var aggregateID *int64
	if msg.NotificationID != 0 {
		id := msg.NotificationID
		aggregateID = &id
	}

	if err := outbox.InsertEventInTx(ctx, g.tx, g.parent.repo, "notification", aggregateID,
		mqcontracts.RoutingKeyReminderDispatch, msg.ID, payload); err != nil {
		return fmt.Errorf("failed to enqueue dispatch %s: %w", msg.ID, err)
	}

	g.parent.logger.Debug("Dispatch enqueued",
		zap.String("message_id", msg.ID),
		zap.Int64("notification_id", msg.NotificationID),
		zap.String("channel", g.parent.channel),
	)
	return nil
}

func cleanRecipients(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[strings.ToLower(r)] {
			continue
		}
		seen[strings.ToLower(r)] = true
		out = append(out, r)
	}
	return out
}
