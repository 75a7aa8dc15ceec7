package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classgate/config"
	"classgate/internal/api/handler"
	"classgate/internal/api/middleware"
	"classgate/pkg/jwt"
	"classgate/pkg/redis"
)

// maxBodyBytes ICS 导入是最大的请求体，1MB 足够一学期的日历
const maxBodyBytes = 1 << 20

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	joinLimit := middleware.RateLimit(rdb, cfg.Auth.JoinRateLimitPerMinute, time.Minute)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.RefreshToken)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, rdb))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.GetCurrentUser)

			// 会话模块（教师端）
			sessions := authorized.Group("/sessions", middleware.RoleAuth("teacher"))
			{
				sessions.POST("", h.Session.CreateSession)
				sessions.GET("", h.Session.ListSessions)
				sessions.POST("/import-ics", h.Session.ImportICS)
				sessions.GET("/:id", h.Session.GetSession)
				sessions.PUT("/:id", h.Session.UpdateSession)
				sessions.PUT("/:id/open", h.Session.OpenSession)
				sessions.PUT("/:id/pause", h.Session.PauseSession)
				sessions.POST("/:id/close", h.Session.CloseSession)
				sessions.GET("/:id/live", h.Session.GetLiveStatus)
				sessions.GET("/:id/keys", h.Session.ListKeys)
				sessions.POST("/:id/keys/rotate", h.Session.RotateKey)
				sessions.GET("/:id/export", h.Session.ExportRoster)
				sessions.POST("/:id/records/:student_id/override", h.Record.OverrideRecord)
				sessions.DELETE("/:id/records/:student_id", h.Record.DeleteRecord)
			}

			// 学生签到（限流按 IP+路由滑动窗口）
			authorized.POST("/join", middleware.RoleAuth("student"), joinLimit, h.Join.Join)
			authorized.GET("/join", middleware.RoleAuth("student"), joinLimit, h.Join.Join)
			authorized.GET("/join-live", middleware.RoleAuth("student"), joinLimit, h.Join.JoinLive)
			authorized.POST("/join-live", middleware.RoleAuth("student"), joinLimit, h.Join.JoinLive)
		}
	}

	return r
}
