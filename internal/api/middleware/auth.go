package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"applyflow/pkg/auth"
	"applyflow/pkg/response"
)

// ContextUsername is the gin context key holding the authenticated operator.
const ContextUsername = "username"

// AuthMiddleware accepts a Bearer token in the Authorization header, or in
// the token query parameter for websocket clients that cannot set headers.
func AuthMiddleware(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Unauthorized(c, "Authorization header format must be Bearer {token}")
				return
			}
			token = parts[1]
		}
		if token == "" {
			response.Unauthorized(c, "Authorization required")
			return
		}

		claims, err := a.Parse(token)
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			return
		}
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}
