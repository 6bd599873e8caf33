package v1

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

// DTOToNewIncident преобразует DTO регистрации в доменную модель
func DTOToNewIncident(dto CreateIncidentRequest) models.NewIncident {
	return models.NewIncident{
		Type:        models.IncidentType(dto.Type),
		Severity:    models.Severity(dto.Severity),
		Description: dto.Description,
		Location: models.Location{
			Point:   models.Point{Latitude: dto.Latitude, Longitude: dto.Longitude},
			Address: dto.Address,
		},
	}
}

// DTOToIncidentPatch преобразует DTO изменения полей
func DTOToIncidentPatch(dto UpdateIncidentRequest) models.IncidentPatch {
	patch := models.IncidentPatch{
		Description: dto.Description,
		Address:     dto.Address,
	}
	if dto.Type != nil {
		t := models.IncidentType(*dto.Type)
		patch.Type = &t
	}
	if dto.Severity != nil {
		s := models.Severity(*dto.Severity)
		patch.Severity = &s
	}
	if dto.Latitude != nil && dto.Longitude != nil {
		patch.Location = &models.Location{Point: models.Point{Latitude: *dto.Latitude, Longitude: *dto.Longitude}}
	}
	return patch
}

func summaryToResponse(s models.UserSummary) UserSummaryResponse {
	return UserSummaryResponse{
		ID:             s.ID,
		Name:           s.Name,
		Email:          s.Email,
		Phone:          s.Phone,
		Specialization: string(s.Specialization),
	}
}

// ModelToIncidentResponse преобразует проекцию инцидента в DTO для ответа
func ModelToIncidentResponse(view *models.IncidentView) *IncidentResponse {
	resp := &IncidentResponse{
		ID:               view.ID,
		Type:             string(view.Type),
		Severity:         string(view.Severity),
		Description:      view.Description,
		Latitude:         view.Location.Latitude,
		Longitude:        view.Location.Longitude,
		Address:          view.Location.Address,
		Status:           string(view.Status),
		ReportedBy:       view.ReportedBy,
		Responders:       make([]UserSummaryResponse, 0, len(view.ResponderDetails)),
		ResponderIDs:     append([]uuid.UUID{}, view.Responders...),
		ResponderActions: make(map[string]ResponderActionResponse, len(view.ResponderActions)),
		Updates:          make([]UpdateResponse, 0, len(view.Updates)),
		CreatedAt:        view.CreatedAt,
		AssignedAt:       view.AssignedAt,
		ResolvedAt:       view.ResolvedAt,
		UpdatedAt:        view.UpdatedAt,
	}
	if view.Reporter != nil {
		reporter := summaryToResponse(*view.Reporter)
		resp.Reporter = &reporter
	}
	for _, s := range view.ResponderDetails {
		resp.Responders = append(resp.Responders, summaryToResponse(s))
	}
	for id, a := range view.ResponderActions {
		resp.ResponderActions[id.String()] = ResponderActionResponse{Action: string(a.Action), Timestamp: a.Timestamp}
	}
	for _, u := range view.Updates {
		resp.Updates = append(resp.Updates, UpdateResponse{Message: u.Message, AuthorID: u.AuthorID, Timestamp: u.Timestamp})
	}
	return resp
}

// ModelsToIncidentResponses преобразует слайс проекций в слайс DTO
func ModelsToIncidentResponses(views []*models.IncidentView) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(views))
	for i, view := range views {
		responses[i] = ModelToIncidentResponse(view)
	}
	return responses
}

func PageToResponse(page *models.IncidentPage) *IncidentListResponse {
	return &IncidentListResponse{
		Items:   ModelsToIncidentResponses(page.Items),
		Total:   page.Total,
		Page:    page.Page,
		Limit:   page.Limit,
		HasNext: page.HasNext(),
		HasPrev: page.HasPrev(),
	}
}

func UserToResponderResponse(u *models.User) *ResponderResponse {
	resp := &ResponderResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		Specialization: string(u.Specialization),
		IsAvailable:    u.IsAvailable,
		UpdatedAt:      u.UpdatedAt,
	}
	if u.Location != nil {
		lat, lon := u.Location.Latitude, u.Location.Longitude
		resp.Latitude, resp.Longitude = &lat, &lon
	}
	return resp
}

func UsersToResponderResponses(users []*models.User) []*ResponderResponse {
	responses := make([]*ResponderResponse, len(users))
	for i, u := range users {
		responses[i] = UserToResponderResponse(u)
	}
	return responses
}

func CandidatesToResponderResponses(candidates []models.Candidate) []*ResponderResponse {
	responses := make([]*ResponderResponse, len(candidates))
	for i := range candidates {
		resp := UserToResponderResponse(&candidates[i].User)
		distance := candidates[i].DistanceMeters
		resp.DistanceMeters = &distance
		responses[i] = resp
	}
	return responses
}

// queryToFilter собирает фильтр из строки запроса
func queryToFilter(q listQuery) (models.IncidentFilter, error) {
	filter := models.IncidentFilter{
		Type:     models.IncidentType(q.Type),
		Severity: models.Severity(q.Severity),
		Page:     q.Page,
		Limit:    q.Limit,
	}
	for _, raw := range q.Status {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.Status(s))
			}
		}
	}
	var err error
	if q.ReportedBy != "" {
		if filter.ReportedBy, err = uuid.Parse(q.ReportedBy); err != nil {
			return filter, apperror.Wrap(apperror.KindValidation, err, "invalid reported_by")
		}
	}
	if q.Responder != "" {
		if filter.Responder, err = uuid.Parse(q.Responder); err != nil {
			return filter, apperror.Wrap(apperror.KindValidation, err, "invalid responder")
		}
	}
	if filter.CreatedAfter, err = parseTimeParam(q.CreatedAfter); err != nil {
		return filter, apperror.Wrap(apperror.KindValidation, err, "invalid created_after")
	}
	if filter.CreatedBefore, err = parseTimeParam(q.CreatedBefore); err != nil {
		return filter, apperror.Wrap(apperror.KindValidation, err, "invalid created_before")
	}
	if filter.Sort, err = models.ParseSort(q.Sort); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
