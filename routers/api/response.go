package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the envelope.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeProjectNotFound  = "project_not_found"
	CodeTaskNotFound     = "task_not_found"
	CodeUnknownFeature   = "unknown_feature"
	CodeScriptRequired   = "script_required"
	CodeQueueUnavailable = "queue_unavailable"
	CodeStorageFailed    = "storage_failed"
	CodeInternal         = "internal"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
