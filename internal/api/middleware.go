package api

import (
	"net/http"
	"strings"

	"github.com/courierlink/courier/internal/store"
	"github.com/gin-gonic/gin"
)

// identityKey is the gin context key carrying the authenticated identity.
const identityKey = "identity"

// IdentityResolver maps an opaque bearer token to an identity id.
// Authentication itself is an external collaborator; the relay only
// consumes its result.
type IdentityResolver interface {
	Resolve(token string) (string, error)
}

// StoreResolver resolves tokens against the identities table.
type StoreResolver struct {
	DB *store.DB
}

func (r *StoreResolver) Resolve(token string) (string, error) {
	return r.DB.ResolveToken(token)
}

// Auth extracts and resolves the bearer token, aborting with 401 when it
// is missing or unknown.
func Auth(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}

		identity, err := resolver.Resolve(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
			return
		}
		if identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityOf(c *gin.Context) string {
	return c.GetString(identityKey)
}
