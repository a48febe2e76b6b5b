// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts ratelimit.Limiter to Gin. Every admitted or denied
// request carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (epoch seconds). A denial additionally sets Retry-After
// and answers 429 with {error, message, retryAfter, request_id}.
//
// Notes:
//   - Window state is process-local. Multiple replicas each keep their own
//     counters.
//   - Identity comes from ratelimit.ClientIdentity: X-Real-IP, then the
//     first X-Forwarded-For hop, then the peer address, then "unknown".
//   - Idempotent replays (see Idempotency) are not counted.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Error      string `json:"error" example:"too_many_requests"`
	Message    string `json:"message" example:"rate limit exceeded, retry in 12s"`
	RetryAfter int    `json:"retryAfter" example:"12"`
	RequestID  string `json:"request_id,omitempty"`
}

// IsRateBypass reports whether Idempotency marked this request for
// rate-limit bypass (i.e., it is a replay of a previously completed request).
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimit returns a middleware that admits requests through lim.
func RateLimit(lim *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		d := lim.Admit(ratelimit.ClientIdentity(c.Request))
		h := c.Writer.Header()
		h.Set(HeaderRateLimit, strconv.Itoa(d.Limit))
		h.Set(HeaderRateRemaining, strconv.Itoa(d.Remaining))
		h.Set(HeaderRateReset, strconv.FormatInt(d.ResetAt.Unix(), 10))

		if d.Allowed {
			c.Next()
			return
		}

		h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfterSeconds))
		// recorded for the access log
		_ = c.Error(d.Err())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitedResponse{
			Error:      "too_many_requests",
			Message:    "rate limit exceeded, retry in " + strconv.Itoa(d.RetryAfterSeconds) + "s",
			RetryAfter: d.RetryAfterSeconds,
			RequestID:  h.Get(requestIDHeader),
		})
	}
}
