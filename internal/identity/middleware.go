package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalCtxKey = "evidentry.principal"

// RequirePrincipal returns a Gin middleware that resolves the Authorization
// bearer credential through auth and stores the Principal on the request
// context. Requests without a resolvable credential are rejected with 401.
func RequirePrincipal(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "missing bearer credential",
				"code":       "unauthenticated",
				"statusCode": http.StatusUnauthorized,
			})
			return
		}

		p, err := auth.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "invalid credential",
				"code":       "unauthenticated",
				"statusCode": http.StatusUnauthorized,
			})
			return
		}

		c.Set(principalCtxKey, *p)
		c.Next()
	}
}

// RequireRole returns a Gin middleware that rejects principals whose role is
// not in roles. It must run after RequirePrincipal.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromCtx(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "missing principal",
				"code":       "unauthenticated",
				"statusCode": http.StatusUnauthorized,
			})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":      "insufficient role",
			"code":       "forbidden",
			"statusCode": http.StatusForbidden,
		})
	}
}

// PrincipalFromCtx returns the Principal stored by RequirePrincipal.
func PrincipalFromCtx(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalCtxKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
