package selector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

const (
	DefaultLimit = 5
	// DefaultSpecialistMinimum - если профильных кандидатов меньше, список добирается любыми доступными
	DefaultSpecialistMinimum = 3
)

// Directory - справочник ответственных с геозапросом "ближайшие в радиусе"
type Directory interface {
	Nearby(ctx context.Context, q models.NearbyQuery) ([]models.Candidate, error)
}

// Selector подбирает кандидатов для инцидента: сначала профильные, затем любые доступные
type Selector struct {
	dir               Directory
	specialistMinimum int
}

func New(dir Directory, specialistMinimum int) *Selector {
	if specialistMinimum <= 0 {
		specialistMinimum = DefaultSpecialistMinimum
	}
	return &Selector{dir: dir, specialistMinimum: specialistMinimum}
}

// Select возвращает не более limit доступных ответственных в радиусе от точки, ближайшие первыми.
// Пустой результат не является ошибкой.
func (s *Selector) Select(ctx context.Context, incidentType models.IncidentType, at models.Point, radiusMeters float64, limit int) ([]models.Candidate, error) {
	if radiusMeters <= 0 {
		return nil, apperror.Validation("radius must be positive, got %f", radiusMeters)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	spec, ok := incidentType.Specialization()
	if !ok {
		candidates, err := s.dir.Nearby(ctx, models.NearbyQuery{
			Center:       at,
			RadiusMeters: radiusMeters,
			Limit:        limit,
		})
		if err != nil {
			return nil, fmt.Errorf("selector: nearby responders: %w", err)
		}
		return candidates, nil
	}

	specialists, err := s.dir.Nearby(ctx, models.NearbyQuery{
		Center:         at,
		RadiusMeters:   radiusMeters,
		Specialization: spec,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("selector: nearby %s specialists: %w", spec, err)
	}
	if len(specialists) >= s.specialistMinimum || len(specialists) >= limit {
		return specialists, nil
	}

	exclude := make([]uuid.UUID, 0, len(specialists))
	for _, c := range specialists {
		exclude = append(exclude, c.ID)
	}
	others, err := s.dir.Nearby(ctx, models.NearbyQuery{
		Center:       at,
		RadiusMeters: radiusMeters,
		Exclude:      exclude,
		Limit:        limit - len(specialists),
	})
	if err != nil {
		return nil, fmt.Errorf("selector: nearby responders: %w", err)
	}

	result := make([]models.Candidate, 0, len(specialists)+len(others))
	result = append(result, specialists...)
	result = append(result, others...)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
