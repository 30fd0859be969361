package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/dreamcanvas-backend/internal/clients/redis"
	"github.com/yungbote/dreamcanvas-backend/internal/handlers"
	"github.com/yungbote/dreamcanvas-backend/internal/middleware"
	"github.com/yungbote/dreamcanvas-backend/internal/services"
	"github.com/yungbote/dreamcanvas-backend/internal/sse"
)

type RouterConfig struct {
	AuthService       services.AuthService
	AuthHandler       *handlers.AuthHandler
	GenerationHandler *handlers.GenerationHandler
	ChatHandler       *handlers.ChatHandler
	SSEHandler        *handlers.SSEHandler
	Hub               *sse.SSEHub
	Bus               redis.EventBus
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	allowOrigins := []string{
		"http://localhost:80",
		"http://localhost:3000",
		"http://localhost:5173",
	}
	if raw := os.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		allowOrigins = strings.Split(raw, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.POST("/auth/register", cfg.AuthHandler.Register)
		api.POST("/auth/login", cfg.AuthHandler.Login)
		api.POST("/auth/refresh", cfg.AuthHandler.Refresh)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(cfg.AuthService))
	protected.Use(middleware.SSEDataMiddleware(cfg.Hub, cfg.Bus))
	// Auth
	protected.POST("/auth/logout", cfg.AuthHandler.Logout)
	protected.GET("/auth/me", cfg.AuthHandler.GetMe)
	protected.PATCH("/auth/me", cfg.AuthHandler.UpdateMe)
	// Generation
	protected.POST("/generate", cfg.GenerationHandler.Create)
	protected.GET("/generate/:id", cfg.GenerationHandler.Get)
	protected.GET("/generate/:id/status", cfg.GenerationHandler.Status)
	protected.DELETE("/generate/:id", cfg.GenerationHandler.Delete)
	protected.GET("/gallery", cfg.GenerationHandler.Gallery)
	// Chat
	protected.POST("/chat", cfg.ChatHandler.Chat)
	protected.POST("/chat/enhance", cfg.ChatHandler.Enhance)

	// SSE uses its own auth so EventSource clients can pass ?token=
	stream := router.Group("/api/v1")
	stream.Use(middleware.SSEAuthMiddleware(cfg.AuthService))
	stream.GET("/sse/stream", cfg.SSEHandler.Stream)

	return router
}
