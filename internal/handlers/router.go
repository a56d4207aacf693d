package handlers

import (
	"log/slog"

	"github.com/cefrlab/speaking-test-service/internal/gateways"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"github.com/cefrlab/speaking-test-service/internal/services"
	"github.com/cefrlab/speaking-test-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
	adminHandler   *AdminTestHandler
}

func NewHandlerManager(
	registry services.SessionRegistry,
	transcriber gateways.Transcriber,
	tests repositories.TestRepository,
	validator *utils.Validator,
	logger *slog.Logger,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(registry, transcriber, logger),
		adminHandler:   NewAdminTestHandler(tests, validator, logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine, imagesDir string) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "speaking-test-service",
		})
	})

	// Question images referenced by test parts
	if imagesDir != "" {
		router.Static("/images", imagesDir)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		tests := v1.Group("/tests")
		{
			tests.GET("/start", hm.sessionHandler.StartTest)
			tests.POST("/speech", hm.sessionHandler.SubmitSpeech)
			tests.GET("/result/:session_id", hm.sessionHandler.GetResult)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/stats", hm.adminHandler.Stats)

			adminTests := admin.Group("/tests")
			{
				adminTests.GET("", hm.adminHandler.ListTests)
				adminTests.POST("", hm.adminHandler.CreateTest)
				adminTests.GET("/:title", hm.adminHandler.GetTest)
				adminTests.PUT("/:title", hm.adminHandler.UpdateTest)
				adminTests.DELETE("/:title", hm.adminHandler.DeleteTest)
			}
		}
	}
}
