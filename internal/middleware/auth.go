package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/services"
	"github.com/temcen/dinewise/pkg/models"
)

// Context keys set by Auth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

func Auth(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "INVALID_AUTHORIZATION_FORMAT", "Authorization header must be in format 'Bearer <token>'")
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Invalid JWT token")
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// GetUserFromContext returns the authenticated user. ok is false on routes
// that are not behind Auth.
func GetUserFromContext(c *gin.Context) (userID uuid.UUID, role models.Role, ok bool) {
	rawID, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, "", false
	}
	userID, ok = rawID.(uuid.UUID)
	if !ok {
		return uuid.Nil, "", false
	}

	role = models.RoleUser
	if rawRole, exists := c.Get(ContextRole); exists {
		if r, isRole := rawRole.(models.Role); isRole && r != "" {
			role = r
		}
	}
	return userID, role, true
}
