package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// sortableFields - поля, по которым разрешена сортировка списка инцидентов
var sortableFields = map[string]struct{}{
	"created_at": {},
	"severity":   {},
	"status":     {},
	"type":       {},
}

// Sort - поле сортировки; Desc при префиксе "-"
type Sort struct {
	Field string
	Desc  bool
}

// ParseSort разбирает строку вида "-created_at"; пустая строка дает сортировку по умолчанию
func ParseSort(raw string) (Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Sort{Field: "created_at", Desc: true}, nil
	}
	s := Sort{Field: raw}
	if strings.HasPrefix(raw, "-") {
		s = Sort{Field: raw[1:], Desc: true}
	}
	if _, ok := sortableFields[s.Field]; !ok {
		return Sort{}, apperror.Validation("cannot sort by %q", s.Field)
	}
	return s, nil
}

// IncidentFilter - параметры выборки инцидентов
type IncidentFilter struct {
	Statuses      []Status
	Type          IncidentType
	Severity      Severity
	ReportedBy    uuid.UUID
	Responder     uuid.UUID
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Sort          Sort
	Page          int
	Limit         int
}

// Normalize проверяет фильтр и проставляет значения по умолчанию
func (f *IncidentFilter) Normalize() error {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return apperror.Validation("unknown status %q", s)
		}
	}
	if f.Type != "" && !f.Type.Valid() {
		return apperror.Validation("unknown incident type %q", f.Type)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return apperror.Validation("unknown severity %q", f.Severity)
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return apperror.Validation("created_after must not be later than created_before")
	}
	if f.Sort.Field == "" {
		f.Sort = Sort{Field: "created_at", Desc: true}
	}
	if _, ok := sortableFields[f.Sort.Field]; !ok {
		return apperror.Validation("cannot sort by %q", f.Sort.Field)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return nil
}

func (f *IncidentFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// IncidentView - проекция инцидента с карточками заявителя и ответственных
type IncidentView struct {
	*Incident
	Reporter         *UserSummary  `json:"reporter,omitempty"`
	ResponderDetails []UserSummary `json:"responder_details"`
}

type IncidentPage struct {
	Items []*IncidentView
	Total int
	Page  int
	Limit int
}

func (p *IncidentPage) HasNext() bool {
	return p.Page*p.Limit < p.Total
}

func (p *IncidentPage) HasPrev() bool {
	return p.Page > 1
}

// NearbyQuery - запрос к справочнику: доступные ответственные в радиусе, ближайшие первыми
type NearbyQuery struct {
	Center         Point
	RadiusMeters   float64
	Specialization Specialization
	Exclude        []uuid.UUID
	// Limit <= 0 - без ограничения
	Limit int
}

// Candidate - ответственный вместе с расстоянием до точки запроса
type Candidate struct {
	User
	DistanceMeters float64 `json:"distance_meters"`
}
