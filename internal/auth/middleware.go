package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"learnhub/internal/apperr"
)

const CtxClaimsKey = "auth_claims"

// AuthMiddleware accepts a bearer token whose version still matches the
// user's row; logout and password changes bump the version.
func AuthMiddleware(tokens TokenService, repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			apperr.RespondKind(c, apperr.Unauthorized, "missing bearer token")
			c.Abort()
			return
		}

		raw := strings.TrimSpace(h[len("Bearer "):])
		claims, err := tokens.Parse(raw)
		if err != nil {
			apperr.RespondKind(c, apperr.Unauthorized, "invalid token")
			c.Abort()
			return
		}
		if repo != nil {
			currentVersion, err := repo.GetTokenVersion(c.Request.Context(), claims.UserID)
			if err != nil || currentVersion != claims.TokenVersion {
				apperr.RespondKind(c, apperr.Unauthorized, "invalid token")
				c.Abort()
				return
			}
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// RequireAdmin runs after AuthMiddleware and rejects non-admin tokens.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := MustGetClaims(c)
		if claims == nil {
			apperr.RespondKind(c, apperr.Unauthorized, "invalid token")
			c.Abort()
			return
		}
		if !claims.IsAdmin {
			apperr.RespondKind(c, apperr.Forbidden, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
