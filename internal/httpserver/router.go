package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"groupmilestones/internal/handler"
	"groupmilestones/pkg/rbac"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	milestoneHandler *handler.MilestoneHandler,
	jwtSecret string,
	checks map[string]ReadinessCheck,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(500, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.GET("/milestones", RequirePermission(rbac.PermissionReadMilestone), milestoneHandler.List)
		api.POST("/milestones", RequirePermission(rbac.PermissionCreateMilestone), milestoneHandler.Create)
		api.GET("/milestones/:id", RequirePermission(rbac.PermissionReadMilestone), milestoneHandler.Get)
		api.DELETE("/milestones/:id", RequirePermission(rbac.PermissionDeleteMilestone), milestoneHandler.Delete)
		api.PATCH("/milestones/:id/status", RequirePermission(rbac.PermissionOverrideStatus), milestoneHandler.SetStatus)
		api.PATCH("/milestones/:id/members/:member_name/progress", RequirePermission(rbac.PermissionWriteProgress), milestoneHandler.RecordProgress)
		api.POST("/snapshots", RequirePermission(rbac.PermissionIngestSnapshot), milestoneHandler.ApplySnapshot)
	}

	return &Router{Engine: r}
}
