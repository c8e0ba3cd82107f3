package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"medreminder/pkg/trace"
)

var ErrNotReplayable = errors.New("outbox event is not in failed state")

// ReplayService 把死信事件重新放回 pending 队列
type ReplayService struct {
	repo *Repository
}

// NewReplayService 创建新的 ReplayService
func NewReplayService(repo *Repository) *ReplayService {
	return &ReplayService{repo: repo}
}

// ListFailed 列出死信事件
func (s *ReplayService) ListFailed(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetFailedEvents(ctx, limit)
}

// ReplayEvent 重放指定的死信事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != StatusFailed {
		return fmt.Errorf("%w: event %d is %s", ErrNotReplayable, eventID, event.Status)
	}
	return s.repo.ReplayEvent(ctx, eventID)
}

// ReplayFailedEvents 重放所有死信事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.ListFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	successCount := 0
	for _, event := range events {
		if err := s.repo.ReplayEvent(ctx, event.ID); err != nil {
			continue
		}
		successCount++
	}
	return successCount, nil
}

// extractTraceIDFromPayload 从 payload 中提取 trace_id
func extractTraceIDFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ctx
	}
	if envelope.TraceID != "" {
		ctx = trace.WithContext(ctx, envelope.TraceID)
	}
	return ctx
}
