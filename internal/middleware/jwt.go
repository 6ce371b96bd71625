package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/service"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// ContextTokenKey stores the raw bearer token so downstream calls to the main
// API can forward the caller's credentials.
const ContextTokenKey = "bearerToken"

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		// Browsers cannot set headers on EventSource connections, so the
		// stream endpoint accepts the token as a query parameter.
		if token := c.Query("token"); token != "" {
			return token, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
