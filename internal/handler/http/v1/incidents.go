package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// incidentID разбирает :id; false - ответ уже отправлен
func (h *Handler) incidentID(c *gin.Context, log *logrus.Entry) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, log, err, "invalid incident ID")
		return uuid.Nil, false
	}
	return id, true
}

// @Summary Report a new incident
// @Description Register an incident in status reported. Dispatchers and nearby responders are notified; nobody is assigned automatically.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param incident body CreateIncidentRequest true "Incident report"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid request body or validation error"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 503 {object} ErrorResponse "Storage unavailable"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "createIncident", "actor_id": actor.ID})

	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.ReportIncident(c.Request.Context(), actor, DTOToNewIncident(input))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(view))
}

// @Summary Get a list of incidents
// @Description Filtered, sorted and paginated incidents. Callers with role user only see their own reports.
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param status query []string false "Status filter, repeatable or comma separated"
// @Param type query string false "Incident type"
// @Param severity query string false "Severity"
// @Param reported_by query string false "Reporter ID"
// @Param responder query string false "Assigned responder ID"
// @Param created_after query string false "RFC3339 lower bound"
// @Param created_before query string false "RFC3339 upper bound"
// @Param sort query string false "created_at, severity, status or type; prefix - for descending" default(-created_at)
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page (max 100)" default(10)
// @Success 200 {object} IncidentListResponse
// @Failure 400 {object} ErrorResponse "Invalid filter"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	actor := actorFrom(c)
	log := h.logger.WithFields(logrus.Fields{"method": "listIncidents", "actor_id": actor.ID})

	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, log, err, "invalid query parameters")
		return
	}
	if err := h.validate.Struct(q); err != nil {
		h.badRequest(c, log, err, err.Error())
		return
	}
	filter, err := queryToFilter(q)
	if err != nil {
		h.respondError(c, log, err)
		return
	}

	page, err := h.incidentService.ListIncidents(c.Request.Context(), actor, filter)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, PageToResponse(page))
}

// @Summary Get incident by ID
// @Description Get a single incident with reporter and responder details.
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID"
// @Failure 403 {object} ErrorResponse "Not visible to the caller"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	log := h.logger.WithField("method", "getIncident")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	log = log.WithField("id", id)

	view, err := h.incidentService.GetIncident(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(view))
}

// @Summary Update incident fields
// @Description Edit description, type, severity or location. Status and responders are not changed here.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param id path string true "Incident ID"
// @Param incident body UpdateIncidentRequest true "Fields to change"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID or request body"
// @Failure 403 {object} ErrorResponse "Caller may not edit this incident"
// @Failure 422 {object} ErrorResponse "Incident is closed"
// @Router /incidents/{id} [patch]
func (h *Handler) updateIncident(c *gin.Context) {
	log := h.logger.WithField("method", "updateIncident")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	log = log.WithField("id", id)

	var input UpdateIncidentRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.UpdateIncidentFields(c.Request.Context(), actorFrom(c), id, DTOToIncidentPatch(input))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(view))
}

// @Summary Append an incident update
// @Description Add a message to the incident log. The log is append-only.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param id path string true "Incident ID"
// @Param update body AppendUpdateRequest true "Update message"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Empty message"
// @Failure 403 {object} ErrorResponse "Caller may not write to this incident"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Router /incidents/{id}/updates [post]
func (h *Handler) appendUpdate(c *gin.Context) {
	log := h.logger.WithField("method", "appendUpdate")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	log = log.WithField("id", id)

	var input AppendUpdateRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.AppendUpdate(c.Request.Context(), actorFrom(c), id, input.Message)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(view))
}

// @Summary Assign responders
// @Description Replace the responder set of a reported or pending_reassignment incident. Either all listed responders are assigned or none.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param X-User-Role header string true "Must be admin"
// @Param id path string true "Incident ID"
// @Param assignment body AssignRespondersRequest true "Responder IDs"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Unknown or unavailable responder"
// @Failure 403 {object} ErrorResponse "Caller is not a dispatcher"
// @Failure 409 {object} ErrorResponse "Concurrent modification"
// @Failure 422 {object} ErrorResponse "Incident status does not allow assignment"
// @Router /incidents/{id}/assign [post]
func (h *Handler) assignResponders(c *gin.Context) {
	log := h.logger.WithField("method", "assignResponders")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	log = log.WithField("id", id)

	var input AssignRespondersRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.AssignResponders(c.Request.Context(), actorFrom(c), id, input.ResponderIDs)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(view))
}

// @Summary Record a responder action
// @Description Accept or decline an assignment. A responder answers for themself; a dispatcher may answer on their behalf.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param id path string true "Incident ID"
// @Param responder_id path string true "Responder ID"
// @Param action body ResponderActionRequest true "Action"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid action"
// @Failure 403 {object} ErrorResponse "Acting for another responder"
// @Failure 409 {object} ErrorResponse "Responder is not assigned"
// @Failure 422 {object} ErrorResponse "Incident status does not accept actions"
// @Router /incidents/{id}/responders/{responder_id}/action [post]
func (h *Handler) recordResponderAction(c *gin.Context) {
	log := h.logger.WithField("method", "recordResponderAction")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	responderID, err := uuid.Parse(c.Param("responder_id"))
	if err != nil {
		h.badRequest(c, log, err, "invalid responder ID")
		return
	}
	log = log.WithFields(logrus.Fields{"id": id, "responder_id": responderID})

	var input ResponderActionRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.RecordResponderAction(c.Request.Context(), actorFrom(c), id, responderID, models.Action(input.Action))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(view))
}

// @Summary Change incident status
// @Description Apply a manual status transition along the incident state machine.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param X-User-ID header string true "Caller identity"
// @Param id path string true "Incident ID"
// @Param status body ChangeStatusRequest true "Target status"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Unknown status"
// @Failure 403 {object} ErrorResponse "Caller may not change status"
// @Failure 422 {object} ErrorResponse "Transition not allowed"
// @Router /incidents/{id}/status [patch]
func (h *Handler) changeStatus(c *gin.Context) {
	log := h.logger.WithField("method", "changeStatus")
	id, ok := h.incidentID(c, log)
	if !ok {
		return
	}
	log = log.WithField("id", id)

	var input ChangeStatusRequest
	if !h.bindJSON(c, log, &input) {
		return
	}

	view, err := h.incidentService.ChangeStatus(c.Request.Context(), actorFrom(c), id, models.Status(input.Status))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(view))
}
