package v1

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	actorKey = "actor"
)

// APIKeyAuthMiddleware - middleware для аутентификации по API-ключу
func APIKeyAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			// Проверяем также заголовок Authorization: Bearer
			authHeader := c.GetHeader("Authorization")
			if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if apiKey == "" {
			log.Warn("API key missing from request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}

		if !slices.Contains(cfg.APIKeys, apiKey) {
			log.WithField("path", c.FullPath()).Warn("Invalid API key provided")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Next()
	}
}

// IdentityMiddleware читает личность вызывающего, которую проставил внешний сервис идентификации.
// Без валидного X-User-ID запрос отклоняется; роль по умолчанию - user.
func IdentityMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(HeaderUserID))
		if err != nil || id == uuid.Nil {
			log.WithField("path", c.FullPath()).Warn("Request without caller identity")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "caller identity required"})
			return
		}

		role := models.RoleUser
		if raw := c.GetHeader(HeaderUserRole); raw != "" {
			role = models.Role(strings.ToLower(strings.TrimSpace(raw)))
			if !role.Valid() {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown caller role"})
				return
			}
		}

		c.Set(actorKey, models.Actor{ID: id, Role: role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}
