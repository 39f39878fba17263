package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// Browsers cannot set headers on a websocket handshake.
const websocketTokenParam = "access_token"

// RequireAccessToken verifies a user access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return RequireAnyToken(m, TokenTypeAccess)
}

// RequireAnyToken accepts the first token type that verifies.
func RequireAnyToken(m *Manager, accepted ...TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" && c.IsWebsocket() {
			if q := c.Query(websocketTokenParam); q != "" {
				raw = bearerPrefix + q
			}
		}
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		now := time.Now()
		for _, tt := range accepted {
			claims, err := m.Verify(tok, tt, now)
			if err != nil {
				continue
			}
			ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role, claims.TokenType)
			c.Request = c.Request.WithContext(ctx)
			c.Set("user_id", claims.UserID)
			c.Set("role", claims.Role)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}
