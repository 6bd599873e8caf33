package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// @Summary List responders
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Success 200 {array} ResponderResponse
// @Router /responders [get]
func (h *Handler) listResponders(c *gin.Context) {
	log := h.logger.WithField("method", "listResponders")

	users, err := h.responderService.ListResponders(c.Request.Context())
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, UsersToResponderResponses(users))
}

// @Summary List available responders
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Success 200 {array} ResponderResponse
// @Router /responders/available [get]
func (h *Handler) listAvailableResponders(c *gin.Context) {
	log := h.logger.WithField("method", "listAvailableResponders")

	users, err := h.responderService.ListAvailable(c.Request.Context())
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, UsersToResponderResponses(users))
}

// @Summary List responders by specialization
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param specialization path string true "fire, medical, police or disaster"
// @Success 200 {array} ResponderResponse
// @Failure 400 {object} ErrorResponse "Unknown specialization"
// @Router /responders/specialization/{specialization} [get]
func (h *Handler) listRespondersBySpecialization(c *gin.Context) {
	spec := models.Specialization(c.Param("specialization"))
	log := h.logger.WithFields(logrus.Fields{"method": "listRespondersBySpecialization", "specialization": spec})

	users, err := h.responderService.ListBySpecialization(c.Request.Context(), spec)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, UsersToResponderResponses(users))
}

// @Summary Find responders nearby
// @Description Available responders within the radius, nearest first.
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param radius query number false "Radius in meters" default(10000)
// @Param specialization query string false "Only this specialization"
// @Success 200 {array} ResponderResponse
// @Failure 400 {object} ErrorResponse "Invalid coordinates"
// @Router /responders/nearby [get]
func (h *Handler) listNearbyResponders(c *gin.Context) {
	log := h.logger.WithField("method", "listNearbyResponders")

	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, log, err, "invalid query parameters")
		return
	}
	if err := h.validate.Struct(q); err != nil {
		h.badRequest(c, log, err, err.Error())
		return
	}

	center := models.Point{Latitude: *q.Latitude, Longitude: *q.Longitude}
	candidates, err := h.responderService.ListNearby(c.Request.Context(), center, q.RadiusMeters, models.Specialization(q.Specialization))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, CandidatesToResponderResponses(candidates))
}

// @Summary Incidents of the calling responder
// @Description Incidents assigned to the caller plus assigned incidents of the caller's specialization, newest first.
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Success 200 {array} IncidentResponse
// @Failure 403 {object} ErrorResponse "Caller is not a responder"
// @Router /responders/me/incidents [get]
func (h *Handler) myIncidents(c *gin.Context) {
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "myIncidents", "responder_id": actor.ID})

	views, err := h.incidentService.ListResponderIncidents(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(views))
}

// @Summary Update own availability
// @Tags Responders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param availability body AvailabilityRequest true "Availability"
// @Success 200 {object} ResponderResponse
// @Failure 403 {object} ErrorResponse "Caller is not a responder"
// @Router /responders/me/availability [patch]
func (h *Handler) updateAvailability(c *gin.Context) {
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "updateAvailability", "responder_id": actor.ID})

	var input AvailabilityRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	user, err := h.responderService.UpdateAvailability(c.Request.Context(), actor, *input.IsAvailable)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, UserToResponderResponse(user))
}

// @Summary Update own location
// @Description Store the caller's coordinates and share them with rooms of incidents the caller is working on. Rate limited.
// @Tags Responders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param location body LocationRequest true "Coordinates"
// @Success 200 {object} ResponderResponse
// @Failure 400 {object} ErrorResponse "Invalid coordinates"
// @Failure 429 {object} ErrorResponse "Too many updates"
// @Router /responders/me/location [put]
func (h *Handler) updateLocation(c *gin.Context) {
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "updateLocation", "responder_id": actor.ID})

	var input LocationRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	user, err := h.responderService.UpdateLocation(c.Request.Context(), actor, models.Point{Latitude: input.Latitude, Longitude: input.Longitude})
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, UserToResponderResponse(user))
}
