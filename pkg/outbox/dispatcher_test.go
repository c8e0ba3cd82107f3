package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medreminder/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	sent    []int64
	failed  []int64
	status  string
}

func (f *fakeStore) ClaimPendingEvents(_ context.Context, limit int, _ time.Duration) ([]*Event, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkAsFailed(_ context.Context, e *Event, _ error, maxRetries int, _ *Backoff) (string, error) {
	f.failed = append(f.failed, e.ID)
	e.RetryCount++
	if e.RetryCount >= maxRetries {
		return StatusFailed, nil
	}
	return StatusPending, nil
}

type published struct {
	key, id, traceID string
	body             []byte
}

type fakePublisher struct {
	calls  []published
	failOn map[string]bool
}

func (f *fakePublisher) PublishRaw(ctx context.Context, routingKey, messageID string, body []byte) error {
	if f.failOn[messageID] {
		return errors.New("channel closed")
	}
	f.calls = append(f.calls, published{key: routingKey, id: messageID, traceID: trace.FromContext(ctx), body: body})
	return nil
}

func TestDispatcher_ProcessOnce(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "reminder.dispatch", MessageID: "m-1", Payload: json.RawMessage(`{"trace_id":"tr-1"}`)},
		{ID: 2, RoutingKey: "reminder.dispatch", MessageID: "m-2", Payload: json.RawMessage(`{}`)},
	}}
	pub := &fakePublisher{failOn: map[string]bool{"m-2": true}}

	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(3)
	sent := d.ProcessOnce(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Equal(t, []int64{2}, store.failed)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "tr-1", pub.calls[0].traceID)
	assert.Equal(t, "m-1", pub.calls[0].id)
}

func TestDispatcher_DeadLettersAfterMaxRetries(t *testing.T) {
	event := &Event{ID: 7, RoutingKey: "reminder.dispatch", MessageID: "m-7", Payload: json.RawMessage(`{}`), RetryCount: 1}
	store := &fakeStore{pending: []*Event{event}}
	pub := &fakePublisher{failOn: map[string]bool{"m-7": true}}

	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2)
	assert.Equal(t, 0, d.ProcessOnce(context.Background()))
	assert.Equal(t, 2, event.RetryCount)
	assert.Empty(t, store.sent)
}

func TestDispatcher_StartStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop()).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
