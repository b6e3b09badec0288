//Package logging builds the server's hclog loggers
package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/chenBenjamin97/pose-tracker/pkg/config"
)

const rootName = "pose-tracker"

//New returns the root logger configured by the log section. Output defaults to stderr.
func New(cfg config.Log, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            rootName,
		Output:          output,
		Level:           level,
		JSONFormat:      cfg.JSON,
		IncludeLocation: level <= hclog.Debug,
	})
}

//RequestLogger logs every request through logger. Server errors are logged as errors, client errors as warnings.
func RequestLogger(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request failed", args...)
		case status >= 400:
			logger.Warn("request rejected", args...)
		default:
			logger.Debug("request", args...)
		}
	}
}
