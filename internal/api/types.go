package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every handler wraps its payload in,
// generalized from the teacher's internal/api response shape.
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
	Metadata *Metadata   `json:"metadata"`
}

// ErrorInfo carries the error half of a Response.
type ErrorInfo struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// Metadata carries response-level bookkeeping shared by every reply.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Version   string    `json:"version"`
}

// PaginationInfo describes a page of a list response.
type PaginationInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// ListResponse is a paginated list reply.
type ListResponse struct {
	Success    bool           `json:"success"`
	Data       interface{}    `json:"data"`
	Pagination PaginationInfo `json:"pagination"`
	Metadata   *Metadata      `json:"metadata"`
}

// Common error codes, mirrored onto HTTP status by statusFor.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// SuccessResponse writes a 200 OK envelope around data.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Success: true,
		Data:    data,
		Metadata: &Metadata{
			Timestamp: time.Now(),
			RequestID: correlationID(c),
			Version:   "v1",
		},
	})
}

// SuccessListResponse writes a 200 OK envelope around a page of data.
func SuccessListResponse(c *gin.Context, data interface{}, pagination PaginationInfo) {
	c.JSON(200, ListResponse{
		Success:    true,
		Data:       data,
		Pagination: pagination,
		Metadata: &Metadata{
			Timestamp: time.Now(),
			RequestID: correlationID(c),
			Version:   "v1",
		},
	})
}

// ErrorJSON writes an error envelope with the given HTTP status.
func ErrorJSON(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      errorCode,
			Message:   message,
			Details:   details,
			Timestamp: time.Now(),
			RequestID: correlationID(c),
		},
		Metadata: &Metadata{
			Timestamp: time.Now(),
			RequestID: correlationID(c),
			Version:   "v1",
		},
	})
}

// correlationID extracts the per-request id CorrelationIDMiddleware
// attaches, falling back to a fresh one so handlers invoked outside the
// normal middleware chain (tests) still get a stable value.
func correlationID(c *gin.Context) string {
	if id, exists := c.Get(correlationIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
