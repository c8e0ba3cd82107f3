package outbox

import (
	"math/rand"
	"time"
)

// Backoff 指数退避 + 抖动：base * 2^(attempt-1) ±25%，上限 Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewBackoff 创建退避策略，Max 默认为 16 倍 base
func NewBackoff(base time.Duration) *Backoff {
	if base <= 0 {
		base = 5 * time.Second
	}
	return &Backoff{Base: base, Max: base * 16}
}

// Step 返回不带抖动的等待时间，取值只有有限几档
func (b *Backoff) Step(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Base
	}
	if attempt > 31 {
		attempt = 31
	}

	delay := b.Base * time.Duration(1<<(attempt-1))
	if delay <= 0 || delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Next 返回第 attempt 次失败后的等待时间
func (b *Backoff) Next(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Base
	}

	delay := b.Step(attempt)
	jitter := time.Duration(rand.Int63n(int64(delay/2)+1)) - delay/4
	delay += jitter

	if delay > b.Max {
		delay = b.Max
	}
	return delay
}
