package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicedesc/internal/logger"
)

const requestIDHeader = "X-Request-Id"

// requestID reuses an inbound X-Request-Id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// recovery turns handler panics into a 500 with the standard error body.
func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", map[string]interface{}{
					"panic":      fmt.Sprint(r),
					"path":       c.Request.URL.Path,
					"request_id": c.GetString("request_id"),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorBody{
					Code:    "internal",
					Message: "Something went wrong. Please try again.",
				}})
			}
		}()
		c.Next()
	}
}

// requestLogger logs every request except health checks and the event stream.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/api/events" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("request_id"),
		}
		switch {
		case status >= 500:
			log.Error("request failed", fields)
		case status >= 400:
			log.Warn("request rejected", fields)
		default:
			log.Debug("request served", fields)
		}
	}
}
