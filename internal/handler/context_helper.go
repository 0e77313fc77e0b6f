package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-match-api/internal/middleware"
	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
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

func viewerFromContext(c *gin.Context) (models.Viewer, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Viewer{}, appErrors.ErrUnauthorized
	}
	return claims.Viewer(), nil
}

func requestIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid request id")
	}
	return id, nil
}
