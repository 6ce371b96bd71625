package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/middleware"
	"github.com/traveltour/important-info-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func tokenFromContext(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextTokenKey)
	if !exists {
		return ""
	}
	token, _ := value.(string)
	return token
}
