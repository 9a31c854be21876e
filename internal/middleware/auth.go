package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/relay/internal/auth"
)

// Context keys for storing claims in gin.Context.
//
// Why string constants instead of inline strings?
//   - A typo in c.Get("usr_id") compiles and silently returns nil. A typo in
//     a constant name does not compile.
//   - Handlers go through GetUserID/GetEmail, so the keys live in one place.
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
)

// AuthMiddleware returns a Gin middleware that validates JWT tokens from
// "Authorization: Bearer <token>".
//
// On failure the chain is aborted with 401 and the handler never runs. On
// success the claims are stored with c.Set and c.Next passes control on.
//
// Why take `secret` as a parameter?
//   - The middleware stays independent of the config package; main passes
//     cfg.JWTSecret when wiring routes, and tests pass whatever they like.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return authenticate(secret, false)
}

// WebSocketAuthMiddleware is AuthMiddleware for the socket route.
//
// Why a separate middleware?
//   - Browsers cannot set headers on a WebSocket handshake, so the token has
//     to travel as ?token= there.
//   - Query strings end up in access logs and proxy logs. Accepting them only
//     on an actual upgrade request keeps tokens out of URLs everywhere else.
func WebSocketAuthMiddleware(secret string) gin.HandlerFunc {
	return authenticate(secret, true)
}

func authenticate(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, errMsg := extractToken(c, allowQuery && websocket.IsWebSocketUpgrade(c.Request))
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		// Checks signature, expiry and signing method.
		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)

		c.Next()
	}
}

// extractToken returns the token or a client-facing error message.
func extractToken(c *gin.Context, allowQuery bool) (string, string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if q := c.Query("token"); q != "" {
				return q, ""
			}
		}
		return "", "missing authorization header"
	}

	// "Bearer eyJhbG..." → ["Bearer", "eyJhbG..."]
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "invalid authorization format, expected: Bearer <token>"
	}
	return parts[1], ""
}

// GetUserID returns the authenticated user, or uuid.Nil when the request did
// not pass through the auth middleware.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}
