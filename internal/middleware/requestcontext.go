package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slotter-org/alexus-backend/internal/errordata"
	"github.com/slotter-org/alexus-backend/internal/requestdata"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderUserID    = "X-User-Id"
)

// AttachRequestContext puts request data and an error slot on the request
// context. The caller identity comes from the X-User-Id header or the userId
// query parameter.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			userID = strings.TrimSpace(c.Query("userId"))
		}

		ctx := c.Request.Context()
		ctx = requestdata.WithRequestData(ctx, &requestdata.RequestData{
			RequestID: requestID,
			UserID:    userID,
		})
		ctx = errordata.WithErrorData(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}
