package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	ReconcilerService *service.ReconcilerService
	RelocationService *service.RelocationService
	HealthChecker     *health.HealthChecker
	Metrics           *monitoring.Metrics
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(gincors.New(corsConfig))
	}

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", func(c *gin.Context) {
			status := http.StatusOK
			if !deps.HealthChecker.Healthy() {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, deps.HealthChecker.CheckHealth())
		})
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	{
		webhook := NewWebhookHandler(deps.ReconcilerService, deps.Config.Webhook.SignatureHeader, logger)
		v1.POST("/webhooks/payments", middleware.BodySizeLimit(middleware.WebhookBodyLimit), webhook.receive)

		boardHandler := NewBoardHandler(deps.RelocationService)
		boardRoutes := v1.Group("", middleware.BodySizeLimit(middleware.DefaultBodyLimit))
		if deps.Config.Board.RateLimit > 0 {
			limiter := middleware.NewIPRateLimiter("board", deps.Config.Board.RateLimit, deps.Config.Board.RateBurst, deps.Metrics, logger)
			boardRoutes.Use(limiter.Middleware())
		}
		{
			boardRoutes.GET("/accounts/:id/board", boardHandler.snapshot)
			boardRoutes.POST("/board/relocations", boardHandler.relocate)
		}
	}

	return router
}
