package db

import "time"

// NotificationLog 表示 notification_log 表的结构
// window_start 对按天去重的提醒为 epoch
type NotificationLog struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Message      string    `json:"message"`
	LinkTo       *string   `json:"link_to,omitempty"`
	IsRead       bool      `json:"is_read"`
	ItemType     string    `json:"item_type"`
	ItemID       int64     `json:"item_id"`
	DoseSlot     string    `json:"dose_slot"`
	ReminderKind string    `json:"reminder_kind"`
	ReminderDay  string    `json:"reminder_day"`
	WindowStart  time.Time `json:"window_start"`
	CreatedAt    time.Time `json:"created_at"`
}
