package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	iauth "github.com/otpdeck/otpdeck/internal/auth"
	apperrors "github.com/otpdeck/otpdeck/pkg/errors"
	"github.com/otpdeck/otpdeck/pkg/response"
)

const CtxClaimsKey = "authClaims"

// Auth gates requests behind an unlock token. When no passphrase is
// configured the guard is open and the middleware passes everything
// through untouched.
func Auth(jwtSvc *iauth.JWTService, guard *iauth.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if guard == nil || !guard.Required() {
			c.Next()
			return
		}

		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwtSvc.ValidateUnlockToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Error(c, apperrors.ErrVaultLocked)
			} else {
				response.Error(c, apperrors.ErrUnauthorized)
			}
			c.Abort()
			return
		}

		// Tokens issued before the last Lock() carry a stale epoch.
		if !guard.ValidEpoch(claims.Epoch) {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrVaultLocked)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}
