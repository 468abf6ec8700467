package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"

	"yarrow/pkg/logger"
)

// maxLoggedBody caps the request body written to the access log
const maxLoggedBody = 1000

// Logger writes one access-log line per request through the global logger
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var body string
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			body = readRequestBody(c)
		}

		c.Next()

		status := c.Writer.Status()
		line := "%3d | %13v | %15s | %s %s"
		args := []any{status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.URL.RequestURI()}
		if body != "" {
			line += " | body: %s"
			args = append(args, body)
		}

		if status >= http.StatusInternalServerError {
			logger.ErrorCtx(c.Request.Context(), line, args...)
			return
		}
		logger.InfoCtx(c.Request.Context(), line, args...)
	}
}

// readRequestBody reads the body and restores it for the handler
func readRequestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	return CompressBody(data)
}

// CompressBody strips JSON whitespace and truncates long bodies
func CompressBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	compressed := pretty.Ugly(body)
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}
