package server

import (
	"crypto/subtle"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pario-ai/aigate/pkg/apierr"
	"github.com/pario-ai/aigate/pkg/identity"
	"github.com/pario-ai/aigate/pkg/metrics"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// CacheHeader reports whether a generation was served from cache.
	CacheHeader = "X-Aigate-Cache"
	// AdminTokenHeader authenticates admin routes.
	AdminTokenHeader = "X-Admin-Token"

	requestIDKey = "request_id"
	userIDKey    = "user_id"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"bytes", c.Writer.Size(),
		}
		if uid := c.GetString(userIDKey); uid != "" {
			fields = append(fields, "user_id", uid)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		case path == "/healthz" || path == "/metrics":
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// authenticate resolves the caller's user id from the bearer token.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Identity == nil {
			s.abort(c, &apierr.AuthError{Reason: "identity is not configured"})
			return
		}
		userID, err := s.deps.Identity.Verify(identity.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			s.abort(c, err)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.deps.AdminToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			s.abort(c, &apierr.AuthError{Reason: "admin api is disabled"})
			return
		}
		provided := strings.TrimSpace(c.GetHeader(AdminTokenHeader))
		if provided == "" {
			provided = identity.BearerToken(c.GetHeader("Authorization"))
		}
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			s.abort(c, &apierr.AuthError{Reason: "invalid admin token"})
			return
		}
		c.Next()
	}
}

// abort writes err as the response and stops the handler chain.
func (s *Server) abort(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := apierr.Response(err, getRequestID(c))
	if status == apierr.StatusClientClosedRequest {
		// Nobody is reading; keep the status for logs and metrics.
		c.AbortWithStatus(status)
		return
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(field, message string) error {
	return apierr.NewValidation(field, message)
}
