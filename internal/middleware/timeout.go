package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
	"wayfarer-backend/pkg/response"
)

const timeoutOverrideKey = "timeout_override"

// Timeout bounds each REST request with a context deadline. A handler that
// has not answered when it expires gets a 504. Must not wrap /v1/ws.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		d = constants.DefaultTimeout
	}
	return func(c *gin.Context) {
		timeout := d
		if override, ok := c.Get(timeoutOverrideKey); ok {
			if v, ok := override.(time.Duration); ok && v > 0 {
				timeout = v
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestTimeoutsTotal.WithLabelValues(c.Request.Method, endpoint).Inc()
		logger.Warn("Request timed out",
			zap.Duration("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", endpoint),
			zap.String("client_ip", c.ClientIP()))

		// a handler that already answered keeps its response
		if !c.Writer.Written() {
			response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timed out")
			c.Abort()
		}
	}
}

// SetTimeout gives one route a different deadline. It must run before Timeout.
func SetTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(timeoutOverrideKey, d)
		c.Next()
	}
}
