package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	dbcontracts "medreminder/contracts/db"
	"medreminder/internal/reminder"
)

type NotificationLogRepository struct {
	logger *zap.Logger
}

func NewNotificationLogRepository(logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{logger: logger}
}

// DayKeys 读取某一天某类条目已经记录过的提醒键，作为本次评估的快照
func (r *NotificationLogRepository) DayKeys(ctx context.Context, q DBTX, itemType reminder.ItemType, day string) (reminder.KeySet, error) {
	query := `
		SELECT item_type, item_id, dose_slot, reminder_kind, user_id, reminder_day::text, window_start
		FROM notification_log
		WHERE reminder_day = $1::date AND item_type = $2
	`

	rows, err := q.Query(ctx, query, day, string(itemType))
	if err != nil {
		return nil, fmt.Errorf("failed to query notification keys: %w", err)
	}
	defer rows.Close()

	keys := reminder.NewKeySet()
	for rows.Next() {
		var (
			it, slot, kindName, reminderDay string
			itemID, userID                  int64
			windowStart                     time.Time
		)
		if err := rows.Scan(&it, &itemID, &slot, &kindName, &userID, &reminderDay, &windowStart); err != nil {
			return nil, fmt.Errorf("failed to scan notification key: %w", err)
		}

		kind, err := reminder.ParseKind(kindName)
		if err != nil {
			// rows written by other producers are not reminder keys
			r.logger.Debug("Ignoring notification row with unknown kind", zap.String("kind", kindName))
			continue
		}

		keys.Add(reminder.Key{
			ItemType:    reminder.ItemType(it),
			ItemID:      itemID,
			Slot:        slot,
			Kind:        kind,
			RecipientID: userID,
			Day:         reminderDay,
			Window:      windowStart.Unix(),
		})
	}

	return keys, rows.Err()
}

// InsertIfAbsent 追加一条提醒记录；唯一键冲突时不写入并返回 inserted=false
func (r *NotificationLogRepository) InsertIfAbsent(ctx context.Context, q DBTX, rem reminder.Reminder) (*dbcontracts.NotificationLog, bool, error) {
	query := `
		INSERT INTO notification_log
			(user_id, message, item_type, item_id, dose_slot, reminder_kind, reminder_day, window_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8)
		ON CONFLICT (item_type, item_id, dose_slot, reminder_kind, user_id, reminder_day, window_start) DO NOTHING
		RETURNING id, created_at
	`

	entry := &dbcontracts.NotificationLog{
		UserID:       rem.Key.RecipientID,
		Message:      rem.Message,
		ItemType:     string(rem.Key.ItemType),
		ItemID:       rem.Key.ItemID,
		DoseSlot:     rem.Key.Slot,
		ReminderKind: rem.Key.Kind.String(),
		ReminderDay:  rem.Key.Day,
		WindowStart:  rem.Key.WindowStart(),
	}

	err := q.QueryRow(ctx, query,
		entry.UserID,
		entry.Message,
		entry.ItemType,
		entry.ItemID,
		entry.DoseSlot,
		entry.ReminderKind,
		entry.ReminderDay,
		entry.WindowStart,
	).Scan(&entry.ID, &entry.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert notification log: %w", err)
	}
	return entry, true, nil
}
