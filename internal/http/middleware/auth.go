// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling user. With a secret configured, requests
// must carry "Authorization: Bearer <HS256 JWT>" whose subject (or user_id
// claim) becomes the user id. Without a secret the server runs in demo
// mode: the X-User-ID header is trusted and "demo-user" is the fallback.
//
// The resolved id is stored under the "userID" Gin key, which the logging,
// idempotency and handler layers read.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ctxKeyUserID is the Gin key holding the authenticated user id.
	ctxKeyUserID = "userID"
	// HeaderUserID is trusted only in demo mode.
	HeaderUserID = "X-User-ID"
	// DemoUser is the identity used when demo mode receives no header.
	DemoUser = "demo-user"
)

// Claims are the token claims accepted by Auth.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 key. Empty enables demo mode.
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Public lists path prefixes served without a token (health, metrics).
	Public []string
}

// Auth returns a middleware that resolves the user id.
func Auth(opts AuthOptions) gin.HandlerFunc {
	secret := []byte(opts.Secret)
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
			if uid == "" {
				uid = DemoUser
			}
			c.Set(ctxKeyUserID, uid)
			c.Next()
			return
		}

		for _, p := range opts.Public {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims := &Claims{}
		_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil })
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			unauthorized(c, "token has expired")
			return
		case err != nil:
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			unauthorized(c, "invalid token")
			return
		}

		uid := claims.UserID
		if uid == "" {
			uid = claims.Subject
		}
		if uid == "" {
			unauthorized(c, "token has no subject")
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// UserID returns the id stored by Auth, or DemoUser.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DemoUser
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret, userID string, claims jwt.RegisteredClaims) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("empty secret")
	}
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID, RegisteredClaims: claims}).
		SignedString([]byte(secret))
}

func bearerToken(h string) (string, error) {
	if h == "" {
		return "", errors.New("authorization header required")
	}
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tok) == "" {
		return "", errors.New("malformed authorization header (expected: Bearer <token>)")
	}
	return strings.TrimSpace(tok), nil
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
