// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Service
// errors are translated by failService, which never forwards the text of a
// storage error.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "turn_in_progress",
//	  "message": "a response is already being generated for this chat"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeTurnInProgress   = "turn_in_progress"
	ErrCodeStreamFailed     = "stream_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeTurnFailed       = "turn_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// apiError is the status, code and client-safe message for err.
// op names the failing operation and prefixes the persistence code.
func apiError(op string, err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrTurnInProgress):
		return http.StatusConflict, ErrCodeTurnInProgress, "a response is already being generated for this chat"
	case errors.Is(err, services.ErrDuplicateID):
		return http.StatusConflict, ErrCodeConflict, "message id already exists"
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "not found"
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded"
	case errors.Is(err, services.ErrShuttingDown):
		return http.StatusServiceUnavailable, ErrCodeUnavailable, "server is shutting down"
	case errors.Is(err, services.ErrStreamFailure):
		return http.StatusBadGateway, ErrCodeStreamFailed, "response generation failed"
	default:
		return http.StatusInternalServerError, op + "_failed", "internal error"
	}
}

// failService writes the envelope for a service error. The original error is
// logged for 5xx results.
func failService(c *gin.Context, op string, err error) {
	status, code, msg := apiError(op, err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}
