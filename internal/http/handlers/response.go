// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers shared by all endpoints: the error
// envelope, JSON success writers, weak ETags and the event-stream writer
// used by turn endpoints.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

func errorBody(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// fail aborts the request with a structured error. 5xx results are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if err := c.Errors.Last(); err != nil {
			ev = ev.Err(err.Err)
		}
		ev.Msg("api error")
	}
	c.AbortWithStatusJSON(status, errorBody(c, code, msg))
}

// Fail is the exported variant of fail for the router.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// weakETag sets a weak validator derived from a row count and the newest
// updated_at. It reports true (after writing 304) when If-None-Match matches.
func weakETag(c *gin.Context, scope, id string, count int64, newest *time.Time) bool {
	var ts int64
	if newest != nil {
		ts = newest.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, scope, id, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// eventStream writes named server-sent events and flushes after each one.
// Before the first event it behaves like a plain JSON endpoint, so early
// failures still get a status code and the error envelope.
type eventStream struct {
	c       *gin.Context
	started bool
}

func newEventStream(c *gin.Context) *eventStream { return &eventStream{c: c} }

func (s *eventStream) send(event string, data any) {
	if !s.started {
		s.started = true
		h := s.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.c.Status(http.StatusOK)
	}
	s.c.SSEvent(event, data)
	s.c.Writer.Flush()
}

// fail reports err as an "error" event once streaming began, or as a JSON
// error response otherwise.
func (s *eventStream) fail(op string, err error) {
	if !s.started {
		failService(s.c, op, err)
		return
	}
	status, code, msg := apiError(op, err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(s.c).Error().Err(err).Str("code", code).Msg("stream aborted")
	}
	s.send("error", errorBody(s.c, code, msg))
}
