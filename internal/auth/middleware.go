package auth

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireAuth ensures the user is authenticated. API requests get a JSON
// 401; page requests are redirected to login.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, ok := session.Get(SessionUserID).(uint)

		if !ok || userID == 0 {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		// User is authenticated - set context values for downstream handlers
		c.Set(SessionUserID, userID)
		c.Set(SessionEmail, session.Get(SessionEmail))
		c.Set(SessionName, session.Get(SessionName))

		c.Next()
	}
}

// UserID returns the authenticated user's id set by RequireAuth.
func UserID(c *gin.Context) uint {
	id, _ := c.Get(SessionUserID)
	uid, _ := id.(uint)
	return uid
}
