// JWT authentication middleware for the Mocksmith API.

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mocksmith/internal/auth"
)

// RequireAuth middleware validates JWT tokens
func RequireAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
				"code":  "AUTH_HEADER_MISSING",
			})
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Expected 'Bearer <token>'",
				"code":  "INVALID_AUTH_HEADER",
			})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			code := "TOKEN_VALIDATION_FAILED"
			switch err {
			case auth.ErrTokenExpired:
				code = "TOKEN_EXPIRED"
			case auth.ErrInvalidToken:
				code = "INVALID_TOKEN"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  code,
			})
			return
		}

		setUserContext(c, claims)
		c.Next()
	}
}

// OptionalAuth validates a token when present but lets anonymous
// requests through. Used for public project pages.
func OptionalAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.Next()
			return
		}

		setUserContext(c, claims)
		c.Set("authenticated", true)
		c.Next()
	}
}

// RequireAdmin restricts an endpoint to admin accounts. Must run after
// RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, exists := c.Get("is_admin"); !exists || !isAdmin.(bool) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
				"code":  "ADMIN_REQUIRED",
			})
			return
		}
		c.Next()
	}
}

func setUserContext(c *gin.Context, claims *auth.Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("username", claims.Username)
	c.Set("email", claims.Email)
	c.Set("subscription_tier", claims.Tier)
	c.Set("is_admin", claims.IsAdmin)
	c.Set("token_claims", claims)
}

func extractBearerToken(authHeader string) (string, bool) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, bearerPrefix)
	return token, token != ""
}

// GetUserID extracts the authenticated user ID from context.
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetUserTier extracts the subscription tier from context.
func GetUserTier(c *gin.Context) (string, bool) {
	tier, exists := c.Get("subscription_tier")
	if !exists {
		return "", false
	}
	return tier.(string), true
}

// IsAuthenticated reports whether the request carries a valid token.
func IsAuthenticated(c *gin.Context) bool {
	if authenticated, exists := c.Get("authenticated"); exists {
		return authenticated.(bool)
	}
	_, exists := c.Get("user_id")
	return exists
}
