package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/alexus-backend/internal/errordata"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/requestdata"
)

// RequestLogger logs one line per request once the handler returns. It must
// run after AttachRequestContext.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	middlewareLogger := log.With("middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"bytes", c.Writer.Size(),
		}
		if rd := requestdata.GetRequestData(ctx); rd != nil {
			fields = append(fields, "requestID", rd.RequestID)
			if rd.UserID != "" {
				fields = append(fields, "userID", rd.UserID)
			}
		}
		ed := errordata.GetErrorData(ctx)
		switch {
		case ed != nil && ed.HasMessage() && c.Writer.Status() >= 500:
			middlewareLogger.Error("Request failed", append(fields, "error", ed.Message)...)
		case ed != nil && ed.HasMessage():
			middlewareLogger.Warn("Request rejected", append(fields, "error", ed.Message)...)
		default:
			middlewareLogger.Info("Request handled", fields...)
		}
	}
}
