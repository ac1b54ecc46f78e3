package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tutorlink/tutorlink/internal/domain/user"
)

// RequireRole declares the allowed roles for a route. Access is a membership
// check of the principal's role against the declared set: 403 on mismatch,
// 401 when the identity context is missing. Routes that don't attach this
// middleware are open to any authenticated principal; that allow-by-default
// posture is deliberate, so no call site ever passes an empty role list.
func (m *AuthMiddleware) RequireRole(required ...user.Role) gin.HandlerFunc {
	allowed := make(map[user.Role]struct{}, len(required))

	for _, r := range required {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing identity context",
				},
			})
			return
		}

		if _, member := allowed[user.Role(role)]; !member {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Insufficient role for this resource",
				},
			})
			return
		}
		c.Next()
	}
}
