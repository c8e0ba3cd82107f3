package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFromLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASSWORD}
scheduler:
  timezone: UTC
  tick_timeout: 30s
dispatch:
  channel: webhook
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
scheduler:
  advance_notice_hour: 8
`)
	writeFile(t, dir, "secrets.env", "DB_PASSWORD=s3cret\n")

	cfg, err := LoadFrom("production", dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickTimeout)
	assert.Equal(t, 8, cfg.Scheduler.AdvanceNoticeHour)
	assert.Equal(t, "WEBHOOK", cfg.Dispatch.Channel)

	// untouched values keep their defaults
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, "reminder.dispatch.q", cfg.Dispatch.Queue)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.RetryBase)
	assert.Equal(t, 12*time.Hour, cfg.JWTTTL())
}

func TestLoadFromEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "scheduler:\n  timezone: UTC\n")
	t.Setenv("SCHEDULER_TIMEZONE", "Europe/London")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", cfg.Scheduler.Timezone)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestSchedulerLocation(t *testing.T) {
	loc, err := SchedulerConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = SchedulerConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

func TestMissingBaseFile(t *testing.T) {
	_, err := LoadFrom("local", t.TempDir())
	assert.Error(t, err)
}
