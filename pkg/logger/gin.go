package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// Middleware returns a Gin middleware that injects request_id and logs request summaries.
//
// skipPaths suppresses the summary line for matching route patterns. Use it
// for long-lived streaming endpoints whose "request done" entries are minutes
// late and pure noise; the request-scoped logger is still attached.
func Middleware(l *slog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		// attach request_id logger
		reqLogger := l.With("request_id", rid)
		c.Set("logger", reqLogger)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if _, ok := skip[path]; ok && len(c.Errors) == 0 {
			return
		}

		dur := time.Since(start)
		status := c.Writer.Status()
		method := c.Request.Method

		attrs := []any{
			"method", method,
			"path", path,
			"status", status,
			"duration_ms", float64(dur.Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("request", attrs...)
			return
		}
		reqLogger.Info("request", attrs...)
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
