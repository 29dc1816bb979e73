package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/inventory-grid/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи
// в логгер компонента api. Ответы 5xx пишутся на уровне WARN.
type RequestLogger struct {
	log *logging.Logger
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{log: logging.GetAPILogger()}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		clientIP := c.ClientIP()

		rl.log.Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, clientIP, traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.log.Warn("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
			return
		}
		rl.log.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
