package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"medreminder/internal/config"
	"medreminder/internal/dispatch"
	"medreminder/internal/httpserver"
	"medreminder/internal/repository"
	"medreminder/internal/scheduler"
	"medreminder/internal/service"
	"medreminder/pkg/db"
	"medreminder/pkg/logger"
	"medreminder/pkg/mq"
	"medreminder/pkg/outbox"
	pkgredis "medreminder/pkg/redis"
	"medreminder/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "reminder-service")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		log.Fatal("Invalid scheduler timezone", zap.Error(err))
	}

	log.Info("Starting reminder-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("timezone", loc.String()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Migrations
	if cfg.Migrations.Enabled {
		if err := db.RunMigrations(db.DSN(cfg.DB), cfg.Migrations.Source, log); err != nil {
			log.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// DB
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer pool.Close()

	// Redis 只用于多副本的任务租约，连接失败时单副本继续运行
	var rdb *goredis.Client
	if cfg.Scheduler.JobLock {
		rdb, err = pkgredis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, running without job lease", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	settingRepo := repository.NewSettingRepository(pool)
	scheduleRepo := repository.NewScheduleRepository(pool, log)
	logRepo := repository.NewNotificationLogRepository(log)
	outboxRepo := outbox.NewRepository(pool)

	gateway := dispatch.NewOutboxGateway(outboxRepo, cfg.Dispatch.Channel, log)
	reminders := service.NewReminderService(pool, settingRepo, scheduleRepo, logRepo, gateway, loc, log)

	// Outbox Dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries).
		WithBackoff(outbox.NewBackoff(cfg.Outbox.BackoffBase))
	go dispatcher.Start(ctx)

	// Scheduler
	opts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithTickTimeout(cfg.Scheduler.TickTimeout),
		scheduler.WithJob(scheduler.Job{
			ID:      scheduler.JobMedicationCheck,
			Trigger: scheduler.Every(time.Minute),
			Run:     discard(reminders.CheckMedications),
		}),
		scheduler.WithJob(scheduler.Job{
			ID:      scheduler.JobAppointmentCheck,
			Trigger: scheduler.Every(time.Minute),
			Run:     discard(reminders.CheckTodayAppointments),
		}),
		scheduler.WithJob(scheduler.Job{
			ID:      scheduler.JobAppointmentAdvanceNotice,
			Trigger: scheduler.DailyAt(cfg.Scheduler.AdvanceNoticeHour, cfg.Scheduler.AdvanceNoticeMinute, loc),
			Run:     discard(reminders.CheckTomorrowAppointments),
		}),
	}
	if rdb != nil {
		opts = append(opts, scheduler.WithLocker(util.NewDeduper(rdb, cfg.Scheduler.JobLockTTL, log), cfg.Scheduler.JobLockTTL))
	}
	jobRuntime := scheduler.NewRuntime(opts...)
	jobRuntime.Start(ctx)

	// HTTP Server (health, metrics, ops)
	auth := httpserver.NewAuthenticator(cfg.Ops.AdminUser, cfg.Ops.AdminPasswordHash, cfg.JWT.Secret, cfg.JWTTTL())
	admin := httpserver.NewAdminHandler(auth, outbox.NewReplayService(outboxRepo), publisher, jobRuntime, log)
	checks := map[string]httpserver.Check{
		"db": pool.Ping,
		"mq": func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher connection closed")
			}
			return nil
		},
	}
	router := httpserver.NewRouter(admin, auth, checks, log)
	srv := router.Server(cfg.Server.Port)

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("reminder-service is fully initialized and running", zap.Strings("jobs", jobRuntime.Jobs()))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reminder-service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.TickTimeout+15*time.Second)
	defer shutdownCancel()

	// 先关闭 HTTP，不再接受手动触发的任务
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := jobRuntime.Stop(shutdownCtx); err != nil {
		log.Error("Scheduler stop error", zap.Error(err))
	}
	cancel()

	log.Info("reminder-service shutdown complete")
}

// discard adapts a reminder check to a scheduler job; the result is already logged by the service.
func discard(check func(context.Context) (service.TickResult, error)) scheduler.JobFunc {
	return func(ctx context.Context) error {
		_, err := check(ctx)
		return err
	}
}
