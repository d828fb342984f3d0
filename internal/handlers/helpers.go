package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"support-chat/internal/middleware"
)

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// failWithLog logs the underlying error with the request id before replying.
func failWithLog(c *gin.Context, status int, message string, err error) {
	slog.Error(message, "error", err, "request_id", middleware.RequestIDFromContext(c), "path", c.FullPath())
	fail(c, status, message)
}

func requestID(c *gin.Context) string {
	return middleware.RequestIDFromContext(c)
}
