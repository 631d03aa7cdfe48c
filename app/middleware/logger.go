package middleware

import (
	"bytes"
	"net/http"
	"time"

	"lavamon/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

// TraceHeader carries the request trace id back to the client
const TraceHeader = "X-Trace-Id"

// bodyWriter keeps a copy of the response body for error logging
type bodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Logger attaches a trace id to each request and logs it once served.
// Error responses are logged with their compacted body.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, logger.TraceID(ctx))

		writer := &bodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer

		startTime := time.Now()

		// Process request
		c.Next()

		statusCode := c.Writer.Status()
		latencyTime := time.Since(startTime)

		if statusCode >= http.StatusBadRequest {
			logger.WarnCtx(ctx, "[GIN] %3d | %13v | %15s | %s | %s | %s",
				statusCode, latencyTime, c.ClientIP(), c.Request.Method, c.Request.RequestURI,
				CompressBody(writer.body.String()))
			return
		}
		logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s | %s",
			statusCode, latencyTime, c.ClientIP(), c.Request.Method, c.Request.RequestURI)
	}
}

// CompressBody compresses JSON using pretty package
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	// Compress JSON, ugly=true means remove all whitespace
	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > 1000 {
		return string(compressed[:1000]) + "..."
	}
	return string(compressed)
}
