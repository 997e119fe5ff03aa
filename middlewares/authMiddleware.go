package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and stores the caller's
// identity claims in the request context. Requests without a token pass
// through; RequireAuth gates the protected routes.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validated, err := utils.JwtValidate(auth)
		if err != nil || !validated.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claims, ok := validated.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		// Logout revokes the redis session, so a structurally valid JWT
		// alone is not enough. Redis being down fails open.
		if _, exists, err := config.GetRedisValue("Token:" + auth); err == nil && !exists && config.GetRedisDB() != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), auth)
		ctx = utils.SetBusinessIdInContext(ctx, claims.BusinessId)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetRoleTierInContext(ctx, claims.RoleTier)
		ctx = utils.SetIsAdminInContext(ctx, claims.RoleTier >= int(models.TierManager))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
