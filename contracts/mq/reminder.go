package mq

import "time"

const (
	// RoutingKeyReminderDispatch carries one outbound message per recipient.
	RoutingKeyReminderDispatch = "reminder.dispatch"

	ChannelEmail   = "EMAIL"
	ChannelWebhook = "WEBHOOK"
)

type ReminderDispatchPayload struct {
	MessageID      string    `json:"message_id"`
	TraceID        string    `json:"trace_id,omitempty"`
	Channel        string    `json:"channel"` // EMAIL / WEBHOOK
	NotificationID int64     `json:"notification_id"`
	RecipientID    int64     `json:"recipient_id"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	Text           string    `json:"text"`
	HTML           string    `json:"html,omitempty"`
	ItemType       string    `json:"item_type"`
	ItemID         int64     `json:"item_id"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}
