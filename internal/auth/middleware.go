package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const adminKeyHeader = "X-Admin-Key"

// RequireSession accepts either a valid session cookie or the admin key
// header and injects the identity into the request context. With auth
// disabled every request passes with the bypass identity.
func RequireSession(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.disableAuth {
			attach(c, BypassIdentity())
			return
		}

		if key := c.GetHeader(adminKeyHeader); key != "" {
			if !m.CheckAdminKey(key) {
				abortUnauthorized(c)
				return
			}
			attach(c, Identity{Email: "admin@docvai.local", Name: "Admin", Admin: true})
			return
		}

		raw, err := c.Cookie(SessionCookie)
		if err != nil || raw == "" {
			abortUnauthorized(c)
			return
		}
		id, err := m.Verify(raw, time.Now())
		if err != nil {
			abortUnauthorized(c)
			return
		}
		attach(c, id)
	}
}

func attach(c *gin.Context, id Identity) {
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
	c.Set("identity", id)
	c.Next()
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": "missing or invalid session"})
}
