package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// IncidentSummary - краткая карточка инцидента в адресных уведомлениях
type IncidentSummary struct {
	ID          uuid.UUID           `json:"id"`
	Type        models.IncidentType `json:"type"`
	Severity    models.Severity     `json:"severity"`
	Status      models.Status       `json:"status"`
	Description string              `json:"description"`
	Location    models.Location     `json:"location"`
	ReportedBy  uuid.UUID           `json:"reported_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

func summarize(inc *models.Incident) IncidentSummary {
	return IncidentSummary{
		ID:          inc.ID,
		Type:        inc.Type,
		Severity:    inc.Severity,
		Status:      inc.Status,
		Description: inc.Description,
		Location:    inc.Location,
		ReportedBy:  inc.ReportedBy,
		CreatedAt:   inc.CreatedAt,
	}
}

type NearbyNoticePayload struct {
	Incident       IncidentSummary `json:"incident"`
	DistanceMeters float64         `json:"distance_meters"`
}

type CandidateSummary struct {
	ID             uuid.UUID             `json:"id"`
	Name           string                `json:"name"`
	Specialization models.Specialization `json:"specialization,omitempty"`
	DistanceMeters float64               `json:"distance_meters"`
}

type CandidatesPayload struct {
	IncidentID   uuid.UUID          `json:"incident_id"`
	RadiusMeters float64            `json:"radius_meters"`
	Candidates   []CandidateSummary `json:"candidates"`
}

type AssignmentNoticePayload struct {
	IncidentID uuid.UUID            `json:"incident_id"`
	AssignedBy uuid.UUID            `json:"assigned_by"`
	Responders []models.UserSummary `json:"responders"`
}

// IncidentUpdatedPayload уходит в комнату инцидента после любого изменения статуса, состава или полей
type IncidentUpdatedPayload struct {
	Change           string                  `json:"change"`
	Status           models.Status           `json:"status"`
	ResponderActions models.ResponderActions `json:"responder_actions"`
	Incident         *models.IncidentView    `json:"incident"`
}

const (
	changeStatus     = "status"
	changeAssignment = "assignment"
	changeFields     = "fields"
	changeAction     = "responder_action"
)

type UpdateAddedPayload struct {
	IncidentID uuid.UUID     `json:"incident_id"`
	Update     models.Update `json:"update"`
}

type ResponderActionPayload struct {
	IncidentID     uuid.UUID             `json:"incident_id"`
	ResponderID    uuid.UUID             `json:"responder_id"`
	ResponderName  string                `json:"responder_name,omitempty"`
	Specialization models.Specialization `json:"specialization,omitempty"`
	Action         models.Action         `json:"action"`
	Timestamp      time.Time             `json:"timestamp"`
	Status         models.Status         `json:"status"`
}

type IncidentRefPayload struct {
	IncidentID uuid.UUID `json:"incident_id"`
}

type IncidentResolvedPayload struct {
	IncidentID uuid.UUID `json:"incident_id"`
	ResolvedBy uuid.UUID `json:"resolved_by"`
}

type AvailabilityPayload struct {
	ResponderID uuid.UUID `json:"responder_id"`
	IsAvailable bool      `json:"is_available"`
}

type LocationPayload struct {
	IncidentID  uuid.UUID    `json:"incident_id"`
	ResponderID uuid.UUID    `json:"responder_id"`
	Location    models.Point `json:"location"`
}

type UnacknowledgedPayload struct {
	IncidentID uuid.UUID   `json:"incident_id"`
	AssignedAt time.Time   `json:"assigned_at"`
	Pending    []uuid.UUID `json:"pending_responders"`
}
