package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/internal/config"
	"medreminder/internal/dispatch"
	"medreminder/pkg/logger"
	"medreminder/pkg/mq"
	pkgredis "medreminder/pkg/redis"
	"medreminder/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "mail-worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Starting mail-worker...",
		zap.String("queue", cfg.Dispatch.Queue),
		zap.String("smtp_host", cfg.SMTP.Host),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis（去重与重试计数）
	rdb, err := pkgredis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, cfg.Dispatch.DedupTTL, log)
	retryCounter := util.NewRetryCounter(rdb, cfg.Dispatch.DedupTTL)

	// DLQ 与延迟重试队列共用 publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Senders
	var senders []dispatch.Sender
	if cfg.SMTP.Host != "" {
		emailSender, err := dispatch.NewEmailSender(cfg.SMTP, log)
		if err != nil {
			log.Fatal("Failed to init email sender", zap.Error(err))
		}
		senders = append(senders, emailSender)
	}
	if cfg.Dispatch.WebhookURL != "" {
		senders = append(senders, dispatch.NewWebhookSender(cfg.Dispatch.WebhookURL, cfg.Dispatch.WebhookTimeout, log))
	}
	if len(senders) == 0 {
		log.Fatal("No delivery channel configured (smtp.host or dispatch.webhook_url)")
	}

	handler := dispatch.NewHandler(deduper, retryCounter, publisher, log, senders...).
		WithMaxRetries(cfg.Dispatch.MaxRetries).
		WithRetryQueue(publisher, cfg.Dispatch.RetryBase)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Dispatch.Queue, mqcontracts.RoutingKeyReminderDispatch, cfg.Dispatch.Prefetch, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	go func() {
		log.Info("Starting dispatch consumer")
		if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Dispatch consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	// HTTP Server (health, metrics)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("mail-worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("Shutting down mail-worker gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("mail-worker shutdown complete")
}
