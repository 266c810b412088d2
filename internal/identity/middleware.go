package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxAdminClaims = "fangate_admin_claims"

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer
// token with Role="admin".
func RequireAdmin(tokens *AdminTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "admin Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		if claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin role required",
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// AdminClaimsFromCtx retrieves the claims injected by RequireAdmin, or nil.
func AdminClaimsFromCtx(c *gin.Context) *AdminClaims {
	v, _ := c.Get(ctxAdminClaims)
	claims, _ := v.(*AdminClaims)
	return claims
}
