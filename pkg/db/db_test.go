package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"medreminder/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Host: "db", Port: 5432, User: "app", Password: "pw", Name: "reminders"}
	assert.Equal(t, "postgres://app:pw@db:5432/reminders?sslmode=disable", DSN(cfg))

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://app:pw@db:5432/reminders?sslmode=require", DSN(cfg))
}

func TestSlowQueryTracer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracer := NewSlowQueryTracer(zap.New(core), time.Millisecond)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT pg_sleep(1)"})
	time.Sleep(5 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	fast := NewSlowQueryTracer(zap.New(core), time.Hour)
	ctx = fast.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	fast.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	entries := logs.FilterMessage("slow-query").All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "SELECT pg_sleep(1)", entries[0].ContextMap()["sql"])
}
