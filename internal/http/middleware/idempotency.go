// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file handles the Idempotency-Key header on turn creation. A valid key
// is stashed in the Gin context; when a lookup finds a committed result for
// (user, chat, key) the id of the stored assistant message is stashed too
// and the request is flagged to skip rate limiting. The handler serves the
// replay itself.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey     = "idem.key"
	ctxKeyIdemReplay  = "idem.replay" // string: committed message id
	ctxKeyRateBypass  = "rate.bypass" // bool: skip RateLimit
	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Get(ctxKeyIdemKey)
	key, _ := s.(string)
	return key, key != ""
}

// ReplayMessageID returns the committed message id found for this request's
// key. ok is false when the request is not a replay.
func ReplayMessageID(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemReplay)
	id, _ := v.(string)
	return id, id != ""
}

// IsReplay reports whether ReplayMessageID would succeed.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayMessageID(c)
	return ok
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet. nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now is the clock passed to the lookup. nil means time.Now.
	Now func() time.Time
}

// IdempotencyLookup returns the id of the message committed under key, or ""
// when nothing unexpired is stored. Lookup errors are logged and treated as
// a miss so a flaky store never blocks a turn.
type IdempotencyLookup func(ctx context.Context, userID, chatID, key string, now time.Time) (messageID string, err error)

// Idempotency validates the header and resolves replays through lookup.
// Requests without the header pass through untouched; malformed keys get 400.
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			msgID, err := lookup(c.Request.Context(), UserID(c), c.Param("id"), key, now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("idempotency lookup failed")
			case msgID != "":
				c.Set(ctxKeyIdemReplay, msgID)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
