package main

import (
	"context"
	"fmt"
	"os"
	"time"

	redisbus "github.com/yungbote/dreamcanvas-backend/internal/clients/redis"
	"github.com/yungbote/dreamcanvas-backend/internal/db"
	"github.com/yungbote/dreamcanvas-backend/internal/handlers"
	"github.com/yungbote/dreamcanvas-backend/internal/logger"
	"github.com/yungbote/dreamcanvas-backend/internal/repos"
	"github.com/yungbote/dreamcanvas-backend/internal/server"
	"github.com/yungbote/dreamcanvas-backend/internal/services"
	"github.com/yungbote/dreamcanvas-backend/internal/sse"
	"github.com/yungbote/dreamcanvas-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "", log)
	if jwtSecretKey == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 1800, log)
	refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 604800, log)
	generationLimit := utils.GetEnvAsInt("GENERATION_LIMIT_PER_HOUR", 10, log)
	workerEnabled := utils.GetEnvAsBool("WORKER_ENABLED", true, log)
	port := utils.GetEnv("PORT", "8000", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	generationRepo := repos.NewGenerationRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Redis event bus (optional; single-instance deployments run without it)
	var eventBus redisbus.EventBus
	if os.Getenv("REDIS_ADDR") != "" {
		eventBus, err = redisbus.NewEventBus(log)
		if err != nil {
			log.Warn("Redis event bus init failed, continuing without cross-instance events", "error", err)
			eventBus = nil
		}
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if eventBus != nil {
		if err := eventBus.StartForwarder(rootCtx, func(m sse.SSEMessage) {
			sseHub.Broadcast(m)
		}); err != nil {
			log.Warn("Failed to start event bus forwarder", "error", err)
		}
		defer eventBus.Close()
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Fatal("Bucket service init failed", "error", err)
	}
	storageService := services.NewImageStorageService(log, bucketService)

	avatarService, err := services.NewAvatarService(log, bucketService)
	if err != nil {
		log.Warn("Avatar service init failed, new users will have no avatar", "error", err)
		avatarService = nil
	}

	claudeClient, err := services.NewClaudeClient(log)
	if err != nil {
		log.Fatal("Claude client init failed", "error", err)
	}
	imageGenClient, err := services.NewImageGenClient(log)
	if err != nil {
		log.Fatal("Image generation client init failed", "error", err)
	}

	authService := services.NewAuthService(
		thePG, log, userRepo, userTokenRepo, avatarService,
		jwtSecretKey,
		time.Duration(accessTokenTTL)*time.Second,
		time.Duration(refreshTokenTTL)*time.Second,
	)
	userService := services.NewUserService(thePG, log, userRepo)
	generationService := services.NewGenerationService(thePG, log, generationRepo, storageService, imageGenClient, sseHub, eventBus, generationLimit)
	chatService := services.NewChatService(log, claudeClient)
	worker := services.NewGenerationWorker(thePG, log, generationRepo, userRepo, claudeClient, imageGenClient, storageService, sseHub, eventBus)

	if workerEnabled {
		worker.StartWorker(rootCtx)
	}

	// Handlers
	log.Info("Setting up Handlers from main...")
	authHandler := handlers.NewAuthHandler(authService, userService)
	generationHandler := handlers.NewGenerationHandler(generationService, worker)
	chatHandler := handlers.NewChatHandler(chatService)
	sseHandler := handlers.NewSSEHandler(sseHub)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthService:       authService,
		AuthHandler:       authHandler,
		GenerationHandler: generationHandler,
		ChatHandler:       chatHandler,
		SSEHandler:        sseHandler,
		Hub:               sseHub,
		Bus:               eventBus,
	})

	log.Info("Starting HTTP server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("HTTP server exited", "error", err)
	}
}
