package outbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertEventInTx 在业务事务中插入一条 pending 事件
func InsertEventInTx(
	ctx context.Context,
	tx DBTX,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	messageID string,
	payload interface{},
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	event := &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		MessageID:     messageID,
		Payload:       payloadJSON,
		Status:        StatusPending,
	}

	return repo.InsertEvent(ctx, tx, event)
}
