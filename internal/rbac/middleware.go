package rbac

import (
	"net/http"

	"waitercall-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireBusiness enforces the multi-tenant invariant: business_id must exist in context.
// This does not validate membership; that belongs to the authorization layer once persistence exists.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		wid, err := auth.BusinessID(c.Request.Context())
		if err != nil || wid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "business_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - business isolation is enforced via RequireBusiness (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// super_admin bypasses all
		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
