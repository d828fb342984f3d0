package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support-chat/internal/observability"
)

const (
	RequestIDContextKey = "request_id"
	RequestIDHeader     = "X-Request-Id"
)

// RequestID propagates or assigns a request id and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDContextKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(RequestIDContextKey)
}
