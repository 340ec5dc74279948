package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stayward/stayward/internal/governor"
)

const ctxClaims = "stayward_claims"

// RequireUser returns a Gin middleware that enforces a valid Bearer user token.
//
// On success it injects the *Claims into the context under the
// "stayward_claims" key.
func RequireUser(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, tokens)
		if !ok {
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireAdmin returns a Gin middleware that enforces a valid Bearer token
// with the ADMIN role.
func RequireAdmin(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, tokens)
		if !ok {
			return
		}
		if !claims.Role.Privileged() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin role required",
			})
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func bearerClaims(c *gin.Context, tokens *TokenIssuer) (*Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Bearer token required",
		})
		return nil, false
	}
	claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid token: " + err.Error(),
		})
		return nil, false
	}
	return claims, true
}

// ClaimsFromCtx retrieves the claims injected by RequireUser or RequireAdmin.
// Returns nil if no token is present in the context.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

// ActorFromCtx returns the governor actor for the authenticated caller.
func ActorFromCtx(c *gin.Context) governor.Actor {
	claims := ClaimsFromCtx(c)
	if claims == nil {
		return governor.Actor{}
	}
	return claims.Actor()
}

// Actor returns the governed-operation caller the claims describe.
func (c *Claims) Actor() governor.Actor {
	return governor.Actor{
		ID:         c.UserID,
		Role:       string(c.Role),
		Privileged: c.Role.Privileged(),
	}
}
