package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/sessionguard/internal/models"
	"github.com/gogotex/sessionguard/pkg/logger"
)

const (
	identityKey    = "identity"
	accessTokenKey = "accessToken"
)

// AccessVerifier checks an access token and returns its identity.
type AccessVerifier interface {
	Verify(token string) (models.Identity, error)
}

// RevocationList reports access tokens revoked before expiry (logout).
type RevocationList interface {
	Contains(ctx context.Context, token string) (bool, error)
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse("Unauthorized", "UNAUTHORIZED"))
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// AuthMiddleware verifies Bearer access tokens. Failure details are logged;
// the client always gets the same 401 body. rl may be nil.
func AuthMiddleware(v AccessVerifier, rl RevocationList) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			unauthorized(c)
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			logger.Debugf("access token rejected: %v", err)
			unauthorized(c)
			return
		}
		if rl != nil {
			revoked, err := rl.Contains(c.Request.Context(), token)
			if err != nil {
				logger.Errorf("access token blacklist lookup failed: %v", err)
				unauthorized(c)
				return
			}
			if revoked {
				logger.Debugf("blacklisted access token presented for user %s", id.ID)
				unauthorized(c)
				return
			}
		}
		c.Set(identityKey, id)
		c.Set(accessTokenKey, token)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
