package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slotter-org/alexus-backend/internal/db"
	"github.com/slotter-org/alexus-backend/internal/handlers"
	"github.com/slotter-org/alexus-backend/internal/locks"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/metrics"
	"github.com/slotter-org/alexus-backend/internal/prompt"
	"github.com/slotter-org/alexus-backend/internal/repos"
	"github.com/slotter-org/alexus-backend/internal/server"
	"github.com/slotter-org/alexus-backend/internal/services"
	"github.com/slotter-org/alexus-backend/internal/socket"
	"github.com/slotter-org/alexus-backend/internal/utils"
)

func openStore(log *logger.Logger) (db.Service, error) {
	switch driver := dbDriver(log); driver {
	case "sqlite":
		s, err := db.NewSQLiteService(log, utils.GetEnv("SQLITE_PATH", "alexus.db", log))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := db.NewPostgresService(log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Environment Variables
	log.Info("Attempting to load environment variables for Main now...")
	appEnv := utils.GetEnv("APP_ENV", "development", log)
	port := utils.GetEnv("PORT", "8080", log)
	allowOrigins := utils.GetEnvAsSlice("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000"}, log)
	redisAddress := utils.GetEnv("REDIS_ADDRESS", "", log)
	redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
	openAIKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	openAIBaseURL := utils.GetEnv("OPENAI_BASE_URL", "", log)
	historyLimit := utils.GetEnvAsInt("HISTORY_LIMIT", services.DefaultHistoryLimit, log)
	persistTimeout := utils.GetEnvAsInt("PERSIST_TIMEOUT_SECONDS", int(services.DefaultPersistTimeout/time.Second), log)
	promptConfigPath := utils.GetEnv("PROMPT_CONFIG_PATH", "", log)
	bucketName := utils.GetEnv("GCS_BUCKET_NAME", "", log)
	credentialsFile := utils.GetEnv("GCS_CREDENTIALS_FILE", "", log)
	imageMaxBytes := utils.GetEnvAsInt("IMAGE_MAX_BYTES", services.DefaultImageMaxBytes, log)
	imageMaxDimension := utils.GetEnvAsInt("IMAGE_MAX_DIMENSION", services.DefaultImageMaxDimension, log)

	settings := services.DefaultGenerationSettings()
	settings.Model = utils.GetEnv("OPENAI_MODEL", settings.Model, log)
	settings.Temperature = float32(utils.GetEnvAsFloat("OPENAI_TEMPERATURE", float64(settings.Temperature), log))
	settings.MaxTokens = utils.GetEnvAsInt("OPENAI_MAX_TOKENS", settings.MaxTokens, log)
	settings.ImageDetail = utils.GetEnv("OPENAI_IMAGE_DETAIL", settings.ImageDetail, log)
	log.Debug("Environment variables loaded for Main :)",
		"appEnv", appEnv,
		"port", port,
		"allowOrigins", allowOrigins,
		"redisAddress", redisAddress,
		"openAIBaseURL", openAIBaseURL,
		"model", settings.Model,
		"historyLimit", historyLimit,
		"bucketName", bucketName,
	)
	if appEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	prompts, err := prompt.LoadFile(promptConfigPath)
	if err != nil {
		return err
	}

	// Database Setup
	log.Info("Setting Up Database from Main now...")
	store, err := openStore(log)
	if err != nil {
		return fmt.Errorf("DB init failed: %w", err)
	}
	defer store.Close()
	if err := store.AutoMigrateAll(); err != nil {
		log.Warn("Auto migration failed", "error", err)
	}
	theDB := store.DB()
	log.Info("Database Setup From Main Successful :)")

	// Redis Setup
	var (
		redisClient *redis.Client
		locker      locks.Locker = locks.NewLocalLocker()
	)
	if redisAddress != "" {
		log.Info("Setting Up Redis From Main Now...")
		redisClient, err = db.NewRedisClient(log, redisAddress, redisPassword)
		if err != nil {
			log.Warn("Redis unavailable, using in-process locks and local broadcast", "error", err)
		} else {
			defer redisClient.Close()
			locker = locks.NewRedisLocker(redisClient, log, 30*time.Second, 50*time.Millisecond)
			log.Info("Redis Set Up From Main Successful :)")
		}
	}

	// Websocket Setup
	log.Info("Setting Up Websocket Hub From Main Now...")
	wsHub := socket.NewHub(log)
	if redisClient != nil {
		redisPubSub := socket.NewRedisPubSub(log, redisClient, "alexus_hub_broadcast")
		if err := redisPubSub.StartSubscriber(wsHub); err != nil {
			log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
		} else {
			wsHub.SetRedisPubSub(redisPubSub)
			defer redisPubSub.Stop()
			log.Info("Redis pubsub is active!")
		}
	}
	log.Info("Websocket Hub Set Up From Main Successful :)")

	// Repositories Setup
	log.Info("Setting Up Repositories from Main now...")
	conversationRepo := repos.NewConversationRepo(theDB, log)
	messageRepo := repos.NewMessageRepo(theDB, log)
	log.Info("Repositories Set Up From Main Successful :)")

	// Services Setup
	log.Info("Setting up Services from Main now...")
	chatMetrics := metrics.New(prometheus.DefaultRegisterer)
	var bucketService services.BucketService
	if bucketName != "" {
		bucketService, err = services.NewBucketService(ctx, log, bucketName, credentialsFile)
		if err != nil {
			log.Warn("Could not init BucketService, images will be stored inline", "error", err)
			bucketService = nil
		} else {
			defer bucketService.Close()
		}
	}
	generationService, err := services.NewGenerationService(log, openAIKey, openAIBaseURL, settings)
	if err != nil {
		return err
	}
	conversationService := services.NewConversationService(theDB, log, conversationRepo, messageRepo)
	contextAssembler := services.NewContextAssembler(log, conversationService, prompts, chatMetrics, historyLimit)
	imageService := services.NewImageService(log, bucketService, imageMaxBytes, imageMaxDimension)
	chatService := services.NewChatService(
		log,
		conversationService,
		contextAssembler,
		generationService,
		imageService,
		locker,
		prompts,
		chatMetrics,
		time.Duration(persistTimeout)*time.Second,
	)
	log.Info("Services Set Up From Main Successful :)")

	// Handler Setup
	log.Info("Setting Up Handlers and Router from Main now...")
	router := server.NewRouter(server.RouterConfig{
		Log:                 log,
		AllowOrigins:        allowOrigins,
		ChatHandler:         handlers.NewChatHandler(log, chatService, wsHub),
		ConversationHandler: handlers.NewConversationHandler(conversationService, chatService, wsHub),
		AdminHandler:        handlers.NewAdminHandler(log, store),
		WsHandler:           handlers.WsHandler(wsHub, log),
	})
	log.Info("Router Set Up From Main Successful :)")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
