package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的“只执行一次”标记
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce returns true if this is the first time (scope, id) is seen within ttl.
// Redis 不可用时放行，返回 true
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	return d.AcquireOnceFor(ctx, scope, id, d.ttl)
}

// AcquireOnceFor is AcquireOnce with an explicit ttl.
func (d *Deduper) AcquireOnceFor(ctx context.Context, scope, id string, ttl time.Duration) bool {
	key := FormatDedupKey(scope, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release 删除标记，处理失败需要允许重试时调用
func (d *Deduper) Release(ctx context.Context, scope, id string) error {
	return d.rdb.Del(ctx, FormatDedupKey(scope, id)).Err()
}

// FormatDedupKey formats a dedup key for a scope and id
func FormatDedupKey(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}
