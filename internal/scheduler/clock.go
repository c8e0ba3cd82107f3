package scheduler

import (
	"context"
	"time"
)

// Clock abstracts wall time so triggers can be driven in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the process wall clock.
func SystemClock() Clock { return systemClock{} }

type scheduledKey struct{}

// WithScheduledTime records the trigger instant a tick was fired for.
func WithScheduledTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, scheduledKey{}, t)
}

// ScheduledTime returns the trigger instant of the current tick. Manual runs have none.
func ScheduledTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(scheduledKey{}).(time.Time)
	return t, ok
}
