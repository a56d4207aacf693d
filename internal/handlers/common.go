package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger *slog.Logger
}

// NewBaseHandler creates a new base handler with logging capability
func NewBaseHandler(logger *slog.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs incoming HTTP requests with context information
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...any) {
	fields := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"remote_addr", c.ClientIP(),
	}
	fields = append(fields, additionalFields...)
	h.logger.Info(message, fields...)
}

// RespondWithError sends a consistent error response and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error, details ...interface{}) {
	errorResp := ErrorResponse{Message: message}
	if len(details) > 0 {
		errorResp.Details = details[0]
	}

	if err != nil {
		h.logger.Error(message,
			"error", err,
			"status_code", statusCode,
			"path", c.Request.URL.Path)
	} else {
		h.logger.Warn(message,
			"status_code", statusCode,
			"path", c.Request.URL.Path)
	}

	c.JSON(statusCode, errorResp)
}
