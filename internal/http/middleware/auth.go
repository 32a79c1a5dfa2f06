// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Authentication itself happens in
// front of this service; the gateway forwards the verified user ID in
// X-User-ID and, optionally, the caller's identity-provider token so the
// first request of a new user can be enriched with a profile.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/sysutil"
)

const (
	// HeaderUserID carries the authenticated user identifier.
	HeaderUserID = "X-User-ID"
	// HeaderIdentityToken carries the identity-provider access token.
	HeaderIdentityToken = "X-Identity-Token"
	// HeaderJobToken authorizes calls to maintenance endpoints.
	HeaderJobToken = "X-Job-Token"

	ctxKeyUserID = "userID"
)

// EnsureUserFunc makes sure a local user record exists for userID. token may
// be empty.
type EnsureUserFunc func(ctx context.Context, userID, token string) error

// AuthOptions configures Auth.
type AuthOptions struct {
	// Ensure runs once identity is known. Nil skips user provisioning.
	Ensure EnsureUserFunc
	// OnError writes the response when Ensure fails. Nil answers 502.
	OnError func(c *gin.Context, err error)
}

// UserID returns the caller identity stored by Auth, or "" when absent.
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// Auth requires X-User-ID, provisions the user through opts.Ensure and
// re-attaches the request logger with a user_id field.
//
// The identity token is read from X-Identity-Token, falling back to a bearer
// Authorization header.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing "+HeaderUserID+" header")
			return
		}

		token := sysutil.FirstNonEmpty(
			strings.TrimSpace(c.GetHeader(HeaderIdentityToken)),
			sysutil.BearerToken(c.GetHeader("Authorization")),
		)

		c.Set(ctxKeyUserID, uid)
		attachLogger(c, LoggerFrom(c).With().Str("user_id", uid).Logger())

		if opts.Ensure != nil {
			if err := opts.Ensure(c.Request.Context(), uid, token); err != nil {
				if opts.OnError != nil {
					opts.OnError(c, err)
					c.Abort()
					return
				}
				LoggerFrom(c).Error().Err(err).Msg("ensure user")
				abortJSON(c, http.StatusBadGateway, "upstream_failure", "identity provider unavailable")
				return
			}
		}
		c.Next()
	}
}

// JobToken guards maintenance endpoints with a shared secret sent in
// X-Job-Token. An empty token rejects every call.
func JobToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderJobToken))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid job token")
			return
		}
		c.Next()
	}
}

// abortJSON writes the standard error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.Set(ErrorCodeKey, code)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.GetString(requestIDKey),
		"code":       code,
		"message":    msg,
	})
}
