package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		traceID := c.GetString(ContextRequestID)
		lastErr := c.Errors.Last()
		status := apperrors.StatusCode(lastErr.Err)

		event := log.Warn()
		if status >= 500 {
			event = log.Error()
		}
		event.
			Err(lastErr.Err).
			Str("trace_id", traceID).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Msg("Request error")

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: apperrors.Message(lastErr.Err),
			TraceID: traceID,
		})
	}
}

func abortWithError(c *gin.Context, err error) {
	status := apperrors.StatusCode(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    status,
		Message: apperrors.Message(err),
		TraceID: c.GetString(ContextRequestID),
	})
}
