package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"medreminder/pkg/trace"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "json", "reminder-service")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud", "json", "reminder-service")
	assert.Error(t, err)
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := trace.WithContext(context.Background(), "abc123")
	WithTrace(ctx, base).Info("tick")
	WithTrace(context.Background(), base).Info("no trace")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc123", entries[0].ContextMap()["trace_id"])
	_, ok := entries[1].ContextMap()["trace_id"]
	assert.False(t, ok)
}
