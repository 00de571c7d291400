package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgswap/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// requestContext assigns a request id and a request-scoped logger.
func requestContext(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = ksuid.New().String()
		}
		c.Header(requestIDHeader, rid)
		c.Set(loggerKey, base.With("request_id", rid))
		c.Next()
	}
}

// accessLog logs every request and feeds the HTTP metrics.
func accessLog(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", elapsed,
			"remote_ip", c.ClientIP(),
		}
		logger := loggerFrom(c)
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http request failed", append(attrs, "errors", c.Errors.String())...)
		case status >= http.StatusBadRequest:
			logger.Warn("http request rejected", attrs...)
		default:
			logger.Info("http request served", attrs...)
		}
	}
}

// limitBody caps the request body; reads past the limit fail with
// *http.MaxBytesError.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func recovery(c *gin.Context, recovered any) {
	loggerFrom(c).Error("panic in handler", "panic", recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
