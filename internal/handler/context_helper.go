package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/chronoshq/chronos-api/internal/middleware"
	"github.com/chronoshq/chronos-api/internal/models"
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

func sessionFromContext(c *gin.Context) (models.CalendarSession, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.CalendarSession{}, false
	}
	return models.SessionFromClaims(claims), true
}
