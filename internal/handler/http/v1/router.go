package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)

	secured := api.Group("")
	if len(h.cfg.APIKeys) > 0 {
		secured.Use(APIKeyAuthMiddleware(h.cfg, h.logger))
	}
	secured.Use(IdentityMiddleware(h.logger))

	// Инциденты и диспетчеризация
	incidents := secured.Group("/incidents")
	{
		incidents.POST("", h.createIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.PATCH("/:id", h.updateIncident)
		incidents.POST("/:id/updates", h.appendUpdate)
		incidents.POST("/:id/assign", h.assignResponders)
		incidents.POST("/:id/responders/:responder_id/action", h.recordResponderAction)
		incidents.PATCH("/:id/status", h.changeStatus)
	}

	// Справочник ответственных
	responders := secured.Group("/responders")
	{
		responders.GET("", h.listResponders)
		responders.GET("/available", h.listAvailableResponders)
		responders.GET("/nearby", h.listNearbyResponders)
		responders.GET("/specialization/:specialization", h.listRespondersBySpecialization)
		responders.GET("/me/incidents", h.myIncidents)
		responders.PATCH("/me/availability", h.updateAvailability)
		responders.PUT("/me/location", RateLimitMiddleware(h.cfg.LocationRateLimit, h.logger), h.updateLocation)
	}

	// Поток событий в реальном времени
	secured.GET("/ws", h.serveWS)
}
