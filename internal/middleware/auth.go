package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/storefront/internal/identity"
	"github.com/charlesng35/storefront/pkg/errors"
	"github.com/charlesng35/storefront/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
	CtxSubjectKey   = "authSubject"
)

// Auth verifies the Bearer token before any downstream handler touches the
// request body. Multipart uploads in particular must never be read for an
// unauthenticated caller.
func Auth(verifier identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(authz[7:]))
		if err != nil {
			// Normalise all verification failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxPrincipalKey, principal)
		c.Set(CtxSubjectKey, principal.Subject)
		c.Next()
	}
}

// RequireRole gates a route on a role carried by the verified principal.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromContext(c)
		if principal == nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !principal.HasRole(role) {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PrincipalFromContext returns the verified principal, or nil when the route
// did not pass through Auth.
func PrincipalFromContext(c *gin.Context) *identity.Principal {
	value, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil
	}
	principal, ok := value.(*identity.Principal)
	if !ok {
		return nil
	}
	return principal
}
