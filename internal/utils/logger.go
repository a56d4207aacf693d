package utils

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
)

// NewDefaultLogger creates the production logger with JSON output.
func NewDefaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewDevelopmentLogger creates a logger optimized for development with text
// output and debug level.
func NewDevelopmentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// LoggerForEnvironment picks the logger matching the configured environment.
func LoggerForEnvironment(environment string) *slog.Logger {
	if environment == "production" {
		return NewDefaultLogger()
	}
	return NewDevelopmentLogger()
}

// LoggerMiddleware creates a Gin middleware that routes request logs through
// slog instead of the default Gin logger.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		level := slog.LevelInfo
		if param.StatusCode >= 400 {
			level = slog.LevelWarn
		}
		if param.StatusCode >= 500 {
			level = slog.LevelError
		}

		logger.Log(param.Request.Context(), level, "HTTP Request",
			"method", param.Method,
			"path", param.Path,
			"status_code", param.StatusCode,
			"duration", param.Latency.String(),
			"client_ip", param.ClientIP,
		)
		return ""
	})
}
