package response

import (
	"errors"
	"net/http"

	"anoa.com/refurnish/pkg/apperror"
	"anoa.com/refurnish/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetUserID retrieves the authenticated user ID from the context
func GetUserID(c *gin.Context) (string, error) {
	userID := c.GetString("user_id")
	if userID == "" {
		return "", apperror.ErrUnauthorized
	}
	return userID, nil
}

// ResponseError standardized error response
func ResponseError(c *gin.Context, err error) {
	code := apperror.MapErrorToStatus(err)
	body := gin.H{"error": err.Error()}

	var validationErr *apperror.ValidationError
	if errors.As(err, &validationErr) {
		body["fields"] = validationErr.Fields
	}

	switch {
	case code == http.StatusServiceUnavailable:
		logger.FromGin(c).Warn("storage unavailable", zap.Error(err))
		body["error"] = apperror.ErrStorage.Error()
	case code >= http.StatusInternalServerError:
		logger.FromGin(c).Error("internal error", zap.Error(err))
		body["error"] = apperror.ErrInternal.Error()
	}

	c.AbortWithStatusJSON(code, body)
}

func Success(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"data": data})
}
