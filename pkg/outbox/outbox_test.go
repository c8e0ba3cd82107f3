package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRepository_MarkAsFailed_Reschedules(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events")).
		WithArgs(StatusPending, 1, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	event := &Event{ID: 9}
	status, err := repo.MarkAsFailed(context.Background(), event, errors.New("boom"), 5, NewBackoff(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, 1, event.RetryCount)
	require.NotNil(t, event.NextRetryAt)
	require.NotNil(t, event.LastError)
	assert.Equal(t, "boom", *event.LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkAsFailed_DeadLetters(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events")).
		WithArgs(StatusFailed, 5, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	event := &Event{ID: 3, RetryCount: 4}
	status, err := repo.MarkAsFailed(context.Background(), event, errors.New("nope"), 5, NewBackoff(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, event.NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetEventByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_events WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetEventByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayService_ReplayEvent(t *testing.T) {
	mock := newMock(t)
	svc := NewReplayService(NewRepository(mock))
	now := time.Now()
	lastErr := "smtp down"

	columns := []string{"id", "aggregate_type", "aggregate_id", "routing_key", "message_id", "payload", "status",
		"retry_count", "next_retry_at", "last_error", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_events WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(int64(5), "notification", nil, "reminder.dispatch", "m-5", json.RawMessage(`{}`), StatusFailed,
				5, nil, &lastErr, now, now))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending', retry_count = 0")).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.ReplayEvent(context.Background(), 5))

	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_events WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(int64(6), "notification", nil, "reminder.dispatch", "m-6", json.RawMessage(`{}`), StatusSent,
				0, nil, nil, now, now))

	err := svc.ReplayEvent(context.Background(), 6)
	assert.ErrorIs(t, err, ErrNotReplayable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
