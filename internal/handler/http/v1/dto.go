package v1

import (
	"time"

	"github.com/google/uuid"
)

// CreateIncidentRequest DTO для регистрации инцидента
// @Description DTO для регистрации инцидента
type CreateIncidentRequest struct {
	Type        string  `json:"type" validate:"required,oneof=fire medical police disaster other"`
	Severity    string  `json:"severity" validate:"required,oneof=low medium high critical"`
	Description string  `json:"description" validate:"required,min=1,max=2000"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
	Address     string  `json:"address,omitempty" validate:"max=500"`
}

// UpdateIncidentRequest DTO для изменения описательных полей; отсутствующее поле не меняется
// @Description DTO для изменения описательных полей инцидента
type UpdateIncidentRequest struct {
	Type        *string  `json:"type,omitempty" validate:"omitempty,oneof=fire medical police disaster other"`
	Severity    *string  `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Description *string  `json:"description,omitempty" validate:"omitempty,min=1,max=2000"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"required_with=Latitude,omitempty,longitude"`
	Address     *string  `json:"address,omitempty" validate:"omitempty,max=500"`
}

// AppendUpdateRequest DTO записи в журнал инцидента
// @Description DTO записи в журнал инцидента
type AppendUpdateRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// AssignRespondersRequest DTO назначения ответственных
// @Description DTO назначения ответственных; список полностью заменяет текущий состав
type AssignRespondersRequest struct {
	ResponderIDs []uuid.UUID `json:"responder_ids" validate:"required,min=1,dive,required"`
}

// ResponderActionRequest DTO решения ответственного
// @Description DTO решения ответственного
type ResponderActionRequest struct {
	Action string `json:"action" validate:"required,oneof=accepted declined"`
}

// ChangeStatusRequest DTO ручного перехода статуса
// @Description DTO ручного перехода статуса
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=reported assigned in_progress pending_reassignment resolved closed declined"`
}

// AvailabilityRequest DTO смены доступности
// @Description DTO смены доступности
type AvailabilityRequest struct {
	IsAvailable *bool `json:"is_available" validate:"required"`
}

// LocationRequest DTO координат ответственного
// @Description DTO координат ответственного
type LocationRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// UserSummaryResponse DTO карточки пользователя
// @Description DTO карточки пользователя
type UserSummaryResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
}

// ResponderActionResponse DTO решения ответственного
type ResponderActionResponse struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateResponse DTO записи журнала
type UpdateResponse struct {
	Message   string    `json:"message"`
	AuthorID  uuid.UUID `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID               uuid.UUID                          `json:"id"`
	Type             string                             `json:"type"`
	Severity         string                             `json:"severity"`
	Description      string                             `json:"description"`
	Latitude         float64                            `json:"latitude"`
	Longitude        float64                            `json:"longitude"`
	Address          string                             `json:"address,omitempty"`
	Status           string                             `json:"status"`
	ReportedBy       uuid.UUID                          `json:"reported_by"`
	Reporter         *UserSummaryResponse               `json:"reporter,omitempty"`
	Responders       []UserSummaryResponse              `json:"responders"`
	ResponderIDs     []uuid.UUID                        `json:"responder_ids"`
	ResponderActions map[string]ResponderActionResponse `json:"responder_actions"`
	Updates          []UpdateResponse                   `json:"updates"`
	CreatedAt        time.Time                          `json:"created_at"`
	AssignedAt       *time.Time                         `json:"assigned_at,omitempty"`
	ResolvedAt       *time.Time                         `json:"resolved_at,omitempty"`
	UpdatedAt        time.Time                          `json:"updated_at"`
}

// IncidentListResponse DTO страницы инцидентов
// @Description DTO страницы инцидентов
type IncidentListResponse struct {
	Items   []*IncidentResponse `json:"items"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	HasNext bool                `json:"has_next"`
	HasPrev bool                `json:"has_prev"`
}

// ResponderResponse DTO ответственного
// @Description DTO ответственного
type ResponderResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
	IsAvailable    bool      `json:"is_available"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	// DistanceMeters заполняется только в поиске поблизости
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrorResponse DTO ошибки
// @Description DTO ошибки
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// listQuery - параметры строки запроса списка инцидентов
type listQuery struct {
	Status        []string `form:"status"`
	Type          string   `form:"type" validate:"omitempty,oneof=fire medical police disaster other"`
	Severity      string   `form:"severity" validate:"omitempty,oneof=low medium high critical"`
	ReportedBy    string   `form:"reported_by" validate:"omitempty,uuid"`
	Responder     string   `form:"responder" validate:"omitempty,uuid"`
	CreatedAfter  string   `form:"created_after" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CreatedBefore string   `form:"created_before" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Sort          string   `form:"sort"`
	Page          int      `form:"page" validate:"gte=0"`
	Limit         int      `form:"limit" validate:"gte=0"`
}

// nearbyQuery - параметры поиска ответственных поблизости
type nearbyQuery struct {
	Latitude       *float64 `form:"lat" validate:"required,latitude"`
	Longitude      *float64 `form:"lon" validate:"required,longitude"`
	RadiusMeters   float64  `form:"radius" validate:"gte=0"`
	Specialization string   `form:"specialization" validate:"omitempty,oneof=fire medical police disaster"`
}
