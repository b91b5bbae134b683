// README: Auth middleware: verifies the session token and exposes caller identity.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/infra"
	"ridehail/internal/types"
)

const (
	// TokenCookie carries the session token issued at login.
	TokenCookie = "token"

	ctxCallerUID   = "caller_uid"
	ctxCallerRole  = "caller_role"
	ctxCallerToken = "caller_token"
	ctxTokenExpiry = "token_expiry"
)

// Revoker reports tokens that were logged out before expiry.
type Revoker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Auth rejects requests without a valid token with 401. revoked may be nil.
func Auth(verifier infra.TokenVerifier, revoked Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := TokenFromRequest(c)
		if !ok {
			abortUnauthorized(c, "missing or malformed token")
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		if revoked != nil {
			gone, err := revoked.IsRevoked(c.Request.Context(), raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			if gone {
				abortUnauthorized(c, "token revoked")
				return
			}
		}
		role := tok.Role
		if role == "" {
			if r, ok := tok.Claims["role"].(string); ok {
				role = r
			}
		}
		c.Set(ctxCallerUID, tok.UID)
		c.Set(ctxCallerRole, role)
		c.Set(ctxCallerToken, raw)
		c.Set(ctxTokenExpiry, tok.ExpiresAt)
		c.Next()
	}
}

// RequireRole must run after Auth.
func RequireRole(role types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != string(role) {
			abortUnauthorized(c, "role not allowed")
			return
		}
		c.Next()
	}
}

// TokenFromRequest reads the session cookie, falling back to a Bearer header.
// A present but non-Bearer Authorization header is treated as malformed.
func TokenFromRequest(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		raw, found := strings.CutPrefix(header, "Bearer ")
		raw = strings.TrimSpace(raw)
		return raw, found && raw != ""
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}

func CallerToken(c *gin.Context) string {
	return c.GetString(ctxCallerToken)
}

func TokenExpiry(c *gin.Context) time.Time {
	return c.GetTime(ctxTokenExpiry)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
