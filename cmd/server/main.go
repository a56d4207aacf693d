package main

import (
	"log"

	"github.com/cefrlab/speaking-test-service/internal/cache"
	"github.com/cefrlab/speaking-test-service/internal/config"
	"github.com/cefrlab/speaking-test-service/internal/events"
	"github.com/cefrlab/speaking-test-service/internal/gateways"
	"github.com/cefrlab/speaking-test-service/internal/handlers"
	"github.com/cefrlab/speaking-test-service/internal/models"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"github.com/cefrlab/speaking-test-service/internal/repositories/postgres"
	"github.com/cefrlab/speaking-test-service/internal/services"
	"github.com/cefrlab/speaking-test-service/internal/utils"
	"github.com/cefrlab/speaking-test-service/pkg"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := utils.LoggerForEnvironment(cfg.Environment)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return
	}
	if err := db.AutoMigrate(&models.Test{}); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		return
	}

	var testRepo repositories.TestRepository = postgres.NewTestPostgreSQL(db)
	if cfg.RedisURL != "" {
		redisClient, err := pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Error("Failed to connect to redis", "error", err)
			return
		}
		defer redisClient.Close()
		testRepo = repositories.NewCachedTestRepository(
			testRepo,
			cache.NewRedisCache(redisClient, logger),
			logger,
		)
	}

	transcriber, err := gateways.NewDeepgramClient(cfg.DeepgramAPIKey)
	if err != nil {
		logger.Error("Failed to create transcription client", "error", err)
		return
	}

	assessor, err := gateways.NewOpenAIAssessor(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		logger.Error("Failed to create assessment client", "error", err)
		return
	}

	var publisher events.EventPublisher = events.NoopEventPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaEventPublisher(events.PublisherConfig{
			KafkaBrokers: cfg.KafkaBrokers,
			TopicName:    cfg.EventsTopic,
			Logger:       logger,
		})
		if err != nil {
			logger.Error("Failed to create event publisher", "error", err)
			return
		}
	}
	defer publisher.Close()

	validator := utils.NewValidator()

	registry := services.NewSessionRegistry(
		testRepo,
		assessor,
		publisher,
		validator,
		logger,
		services.RegistryConfig{
			FixedTestTitle: cfg.FixedTestTitle,
			SessionTTL:     cfg.SessionTTL,
		},
	)
	registry.StartSweeper(cfg.SweepInterval)
	defer registry.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.AllowedOrigin},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	handlerManager := handlers.NewHandlerManager(registry, transcriber, testRepo, validator, logger)
	handlerManager.SetupRoutes(router, cfg.ImagesDir)

	logger.Info("Starting speaking test service",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"fixed_test", cfg.FixedTestTitle)

	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("Server stopped", "error", err)
	}
}
