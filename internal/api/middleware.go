package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const correlationIDKey = "correlation_id"

// CorrelationIDMiddleware assigns (or propagates) a correlation id per
// inbound request and threads it through the request's context.Context,
// the ambient-logging counterpart of
// original_source/.../api/middleware/correlation_id.py expressed as a
// Gin middleware rather than a full ASGI middleware stack.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Header("X-Correlation-ID", id)
		ctx := context.WithValue(c.Request.Context(), correlationCtxKey{}, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type correlationCtxKey struct{}

// CorrelationIDFromContext extracts the id CorrelationIDMiddleware
// attached, or "" if none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationCtxKey{}).(string)
	return id
}

// LoggingMiddleware logs each request's outcome with the request's
// correlation id attached.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		entry := log.WithFields(log.Fields{
			"correlation_id": correlationID(c),
			"method":         c.Request.Method,
			"path":           path,
			"status":         c.Writer.Status(),
			"latency":        latency,
			"client_ip":      c.ClientIP(),
		})

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("http request completed")
		case status >= 400:
			entry.Warn("http request completed")
		default:
			entry.Info("http request completed")
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a panic inside a handler into a 500 response
// instead of crashing the process.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"correlation_id": correlationID(c),
			"panic":          recovered,
			"path":           c.Request.URL.Path,
			"method":         c.Request.Method,
		}).Error("panic recovered in http handler")

		ErrorJSON(c, 500, ErrorCodeInternalError, "internal server error", nil)
	})
}

// SecurityHeadersMiddleware adds a conservative set of security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// ValidateContentTypeMiddleware rejects POST bodies that don't declare
// application/json.
func ValidateContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" {
			contentType := c.GetHeader("Content-Type")
			if contentType != "" && contentType != "application/json" {
				ErrorJSON(c, 400, ErrorCodeBadRequest, "Content-Type must be application/json", map[string]string{
					"received": contentType,
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// RequestSizeLimitMiddleware rejects bodies over maxSize bytes.
func RequestSizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			ErrorJSON(c, 400, ErrorCodeBadRequest, "request body too large", map[string]int64{
				"max_size": maxSize,
				"received": c.Request.ContentLength,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
