package app

import (
	"net/http"
	"time"

	"github.com/campuslink/core/internal/middleware"
	"github.com/campuslink/core/internal/modules/auth"
	"github.com/campuslink/core/internal/modules/chat"
	"github.com/campuslink/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

var processStart = time.Now()

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.Auth(a.sessions)

	var rdb *redis.Client
	if a.rc != nil {
		rdb = a.rc.Raw()
	}

	auth.NewHandler(a.auth, a.cfg.IsProduction()).
		RegisterRoutes(&r.RouterGroup, middleware.LoginRateLimit(rdb, a.cfg.LoginPerMinute, a.logger))
	chat.NewHandler(a.chat).RegisterRoutes(&r.RouterGroup, authMW, middleware.Idempotence(rdb))
	a.hub.RegisterRoutes(r, authMW)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": "pong"})
	})
	r.GET("/health", a.health)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})
}

// GET /health
func (a *App) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK

	dbOK := true
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbOK = false
		status = http.StatusServiceUnavailable
	}
	redisState := "disabled"
	if a.rc != nil {
		redisState = "up"
		if err := a.rc.Raw().Ping(ctx).Err(); err != nil {
			redisState = "down"
		}
	}

	c.JSON(status, gin.H{
		"success": status == http.StatusOK,
		"data": gin.H{
			"database":   dbOK,
			"redis":      redisState,
			"revocation": a.revocations.Kind(),
			"chatStore":  a.chat.StoreKind(),
			"online":     a.hub.Tracker().SessionCount(),
			"jobs":       a.sched.List(),
			"uptime":     time.Since(processStart).Truncate(time.Second).String(),
		},
	})
}
