package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"medreminder/pkg/logger"
	"medreminder/pkg/metrics"
	"medreminder/pkg/trace"
)

const (
	JobMedicationCheck          = "medication-check"
	JobAppointmentCheck         = "appointment-check"
	JobAppointmentAdvanceNotice = "appointment-advance-notice"

	defaultTickTimeout = 45 * time.Second
	defaultLockTTL     = 2 * time.Minute
	lockScope          = "joblock"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobRunning  = errors.New("job is already running")
	ErrJobPanicked = errors.New("job panicked")
	ErrStopped     = errors.New("scheduler is stopped")
)

// JobFunc is one tick of a job. It must honor ctx cancellation.
type JobFunc func(ctx context.Context) error

type Job struct {
	ID      string
	Trigger Trigger
	Run     JobFunc
}

// Locker grants a job instance to at most one replica; *util.Deduper implements it.
type Locker interface {
	AcquireOnceFor(ctx context.Context, scope, id string, ttl time.Duration) bool
}

type Option func(*Runtime)

func WithJob(job Job) Option {
	return func(r *Runtime) { r.jobs = append(r.jobs, &jobState{Job: job}) }
}

func WithClock(c Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

func WithTickTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.tickTimeout = d
		}
	}
}

// WithLocker enables the cross-replica lease for each scheduled tick.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(r *Runtime) {
		r.locker = l
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

type jobState struct {
	Job
	running atomic.Bool
}

// Runtime owns the trigger loops of its jobs. Runtimes share no state.
type Runtime struct {
	jobs        []*jobState
	clock       Clock
	tickTimeout time.Duration
	locker      Locker
	lockTTL     time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	ticks   sync.WaitGroup
}

func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		clock:       SystemClock(),
		tickTimeout: defaultTickTimeout,
		lockTTL:     defaultLockTTL,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Jobs returns the registered job ids in registration order.
func (r *Runtime) Jobs() []string {
	ids := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

// Start launches one trigger loop per job. It returns immediately.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, j := range r.jobs {
		r.logger.Info("Scheduling job", zap.String("job", j.ID), zap.String("trigger", j.Trigger.String()))
		r.loops.Add(1)
		go r.loop(ctx, j)
	}
}

// Stop cancels the triggers and waits for in-flight ticks until ctx is done.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		r.ticks.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunNow runs a job immediately and waits for the result. The replica lease is
// not taken and the job sees no scheduled time. It fails with ErrStopped once
// Stop has been called.
func (r *Runtime) RunNow(ctx context.Context, jobID string) error {
	j := r.find(jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if !j.running.CompareAndSwap(false, true) {
		metrics.IncrementJobSkipped(j.ID, "running")
		return ErrJobRunning
	}
	defer j.running.Store(false)

	// Add under mu so it is ordered before Stop's Wait
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.ticks.Add(1)
	r.mu.Unlock()
	defer r.ticks.Done()

	return r.execute(ctx, j, "manual")
}

func (r *Runtime) find(jobID string) *jobState {
	for _, j := range r.jobs {
		if j.ID == jobID {
			return j
		}
	}
	return nil
}

func (r *Runtime) loop(ctx context.Context, j *jobState) {
	defer r.loops.Done()
	for {
		now := r.clock.Now()
		next := j.Trigger.Next(now)
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(next.Sub(now)):
		}
		r.fire(ctx, j, next)
	}
}

// fire starts a scheduled tick unless the previous one is still running or
// another replica holds the lease for the same slot.
func (r *Runtime) fire(ctx context.Context, j *jobState, scheduled time.Time) {
	if !j.running.CompareAndSwap(false, true) {
		metrics.IncrementJobSkipped(j.ID, "running")
		r.logger.Warn("Previous tick still running, skipping", zap.String("job", j.ID), zap.Time("scheduled", scheduled))
		return
	}

	if r.locker != nil {
		slot := j.ID + ":" + scheduled.UTC().Format("200601021504")
		if !r.locker.AcquireOnceFor(ctx, lockScope, slot, r.lockTTL) {
			j.running.Store(false)
			metrics.IncrementJobSkipped(j.ID, "locked")
			return
		}
	}

	r.ticks.Add(1)
	go func() {
		defer r.ticks.Done()
		defer j.running.Store(false)
		// ticks outlive Stop's cancellation and are bounded by the tick timeout
		tickCtx := WithScheduledTime(context.WithoutCancel(ctx), scheduled)
		if err := r.execute(tickCtx, j, "scheduled"); err != nil {
			r.logger.Debug("Tick returned error", zap.String("job", j.ID), zap.Error(err))
		}
	}()
}

func (r *Runtime) execute(ctx context.Context, j *jobState, origin string) (err error) {
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	ctx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, r.logger).With(zap.String("job", j.ID), zap.String("origin", origin))
	start := time.Now()

	defer func() {
		status := "ok"
		if p := recover(); p != nil {
			log.Error("Panic in job tick", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
			status = "panic"
		} else if err != nil {
			status = "error"
			if errors.Is(err, context.DeadlineExceeded) {
				status = "timeout"
			}
			log.Error("Job tick failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		}
		metrics.RecordJobRun(j.ID, status, time.Since(start))
	}()

	return j.Run(ctx)
}
