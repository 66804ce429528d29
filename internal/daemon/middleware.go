package daemon

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docpipe/internal/api"
	"docpipe/internal/auth"
	"docpipe/internal/logging"
	"docpipe/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"
	identityKey     = "identity"
)

// requestID propagates or assigns a correlation id and stores it on the
// request context for logging.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ErrorWithContext(logging.WithContext(c.Request.Context(), logger), "panic recovered", "api_panic",
					logging.Any("panic", rec),
					logging.String("method", c.Request.Method),
					logging.String("path", c.Request.URL.Path),
					logging.String("stack", string(debug.Stack())),
					logging.String(logging.FieldErrorHint, "report the stack trace"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{
					Error: "internal server error",
					Code:  "internal_error",
				})
			}
		}()
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := logging.Args(
			logging.Int("status", status),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int64("latency_ms", time.Since(start).Milliseconds()),
			logging.String("client_ip", c.ClientIP()),
		)
		if last := c.Errors.Last(); last != nil {
			attrs = append(attrs, logging.Args(logging.Error(last.Err))...)
		}
		log := logging.WithContext(c.Request.Context(), logger)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			log.Warn("request completed", attrs...)
		default:
			log.Debug("request completed", attrs...)
		}
	}
}

// authenticate resolves the bearer token into an identity.
func authenticate(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.FromHeader(c.GetHeader("Authorization"))
		if err == nil {
			var who auth.Identity
			if who, err = issuer.Parse(token); err == nil {
				c.Set(identityKey, who)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
			Error: "missing or invalid bearer token",
			Code:  "unauthenticated",
		})
	}
}

func requireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity(c).Role != role {
			respondError(c, services.Wrap(services.ErrPermissionDenied, "api", c.FullPath(), "requires role "+string(role), nil))
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if who, ok := v.(auth.Identity); ok {
			return who
		}
	}
	return auth.Identity{}
}

// statusFor maps error markers onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrProcessing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), api.ErrorResponse{
		Error: err.Error(),
		Code:  services.Code(err),
		Field: services.FieldOf(err),
	})
}
