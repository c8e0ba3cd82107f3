package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Check 是 /readyz 的依赖探测
type Check func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(admin *AdminHandler, auth *Authenticator, checks map[string]Check, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), AccessLogMiddleware(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/admin/login", admin.Login)

	protected := r.Group("/admin")
	protected.Use(AuthMiddleware(auth))
	{
		protected.GET("/outbox/failed", admin.ListFailedEvents)
		protected.POST("/outbox/:id/replay", admin.ReplayOutboxEvent)
		protected.POST("/replay-failed", admin.ReplayFailedEvents)
		protected.POST("/dlq/replay", admin.ReplayDLQ)
		protected.GET("/jobs", admin.ListJobs)
		protected.POST("/jobs/:id/run", admin.RunJob)
	}

	return &Router{Engine: r}
}

// Server 包装 http.Server，支持优雅关闭
func (r *Router) Server(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
