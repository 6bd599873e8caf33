package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// UserRepository - справочник пользователей и ответственных
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error)
	ListResponders(ctx context.Context) ([]*models.User, error)
	ListAvailableResponders(ctx context.Context) ([]*models.User, error)
	ListBySpecialization(ctx context.Context, spec models.Specialization) ([]*models.User, error)
	Nearby(ctx context.Context, q models.NearbyQuery) ([]models.Candidate, error)
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*models.User, error)
	SetLocation(ctx context.Context, id uuid.UUID, location models.Point) (*models.User, error)
}

// ResponderService - запросы к справочнику ответственных и их самообслуживание
type ResponderService interface {
	ListResponders(ctx context.Context) ([]*models.User, error)
	ListAvailable(ctx context.Context) ([]*models.User, error)
	ListBySpecialization(ctx context.Context, spec models.Specialization) ([]*models.User, error)
	ListNearby(ctx context.Context, center models.Point, radiusMeters float64, spec models.Specialization) ([]models.Candidate, error)
	UpdateAvailability(ctx context.Context, actor models.Actor, available bool) (*models.User, error)
	UpdateLocation(ctx context.Context, actor models.Actor, location models.Point) (*models.User, error)
}

type responderService struct {
	*eventSink
	users     UserRepository
	incidents IncidentRepository
	logger    *logrus.Logger
	cfg       *config.Config
}

func NewResponderService(users UserRepository, incidents IncidentRepository, publisher notify.Publisher, logger *logrus.Logger, cfg *config.Config) ResponderService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &responderService{
		eventSink: &eventSink{
			publisher: publisher,
			logger:    logger,
			timeout:   cfg.PublishTimeout,
			now:       utcNow,
		},
		users:     users,
		incidents: incidents,
		logger:    logger,
		cfg:       cfg,
	}
}

func (s *responderService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *responderService) ListResponders(ctx context.Context) ([]*models.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	users, err := s.users.ListResponders(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list responders")
		return nil, fmt.Errorf("service: could not list responders: %w", err)
	}
	return users, nil
}

func (s *responderService) ListAvailable(ctx context.Context) ([]*models.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	users, err := s.users.ListAvailableResponders(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list available responders")
		return nil, fmt.Errorf("service: could not list available responders: %w", err)
	}
	return users, nil
}

func (s *responderService) ListBySpecialization(ctx context.Context, spec models.Specialization) ([]*models.User, error) {
	if !spec.Valid() {
		return nil, apperror.Validation("unknown specialization %q", spec)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	users, err := s.users.ListBySpecialization(ctx, spec)
	if err != nil {
		s.logger.WithError(err).WithField("specialization", spec).Error("Failed to list responders by specialization")
		return nil, fmt.Errorf("service: could not list responders by specialization: %w", err)
	}
	return users, nil
}

// ListNearby - доступные ответственные в радиусе, ближайшие первыми. Радиус <= 0 заменяется значением по умолчанию.
func (s *responderService) ListNearby(ctx context.Context, center models.Point, radiusMeters float64, spec models.Specialization) ([]models.Candidate, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "responder",
		"method":  "ListNearby",
		"radius":  radiusMeters,
	})

	if err := center.Validate(); err != nil {
		return nil, err
	}
	if spec != models.SpecializationNone && !spec.Valid() {
		return nil, apperror.Validation("unknown specialization %q", spec)
	}
	if radiusMeters <= 0 {
		radiusMeters = s.cfg.NearbyRadiusMeters
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	candidates, err := s.users.Nearby(ctx, models.NearbyQuery{
		Center:         center,
		RadiusMeters:   radiusMeters,
		Specialization: spec,
	})
	if err != nil {
		log.WithError(err).Error("Failed to query nearby responders")
		return nil, fmt.Errorf("service: could not list nearby responders: %w", err)
	}
	log.WithField("count", len(candidates)).Debug("Nearby responders listed")
	return candidates, nil
}

// UpdateAvailability - ответственный сам меняет свою доступность
func (s *responderService) UpdateAvailability(ctx context.Context, actor models.Actor, available bool) (*models.User, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "responder",
		"method":       "UpdateAvailability",
		"responder_id": actor.ID,
		"is_available": available,
	})
	log.Info("Attempting to update responder availability")

	if actor.Role != models.RoleResponder {
		return nil, apperror.Unauthorized("only responders have availability")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.users.SetAvailability(storeCtx, actor.ID, available)
	if err != nil {
		logFailure(log, err, "Failed to update availability")
		return nil, fmt.Errorf("service: could not update availability: %w", err)
	}
	log.Info("Responder availability updated")

	s.publish(ctx, notify.Event{
		Name:    notify.EventResponderAvailabilityChanged,
		Target:  notify.Broadcast(),
		Payload: AvailabilityPayload{ResponderID: user.ID, IsAvailable: user.IsAvailable},
	})
	return user, nil
}

// UpdateLocation - ответственный сообщает свои координаты. Комнаты инцидентов, на которых он сейчас
// работает, получают новое положение.
func (s *responderService) UpdateLocation(ctx context.Context, actor models.Actor, location models.Point) (*models.User, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "responder",
		"method":       "UpdateLocation",
		"responder_id": actor.ID,
	})
	log.Debug("Attempting to update responder location")

	if actor.Role != models.RoleResponder {
		return nil, apperror.Unauthorized("only responders report their location")
	}
	if err := location.Validate(); err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.users.SetLocation(storeCtx, actor.ID, location)
	if err != nil {
		logFailure(log, err, "Failed to update location")
		return nil, fmt.Errorf("service: could not update location: %w", err)
	}

	active, err := s.incidents.ListActiveForResponder(storeCtx, actor.ID)
	if err != nil {
		// координаты уже сохранены, не доставлены только уведомления
		log.WithError(err).Warn("Failed to list active incidents for location broadcast")
		return user, nil
	}

	events := make([]notify.Event, 0, len(active))
	for _, inc := range active {
		events = append(events, notify.Event{
			Name:   notify.EventResponderLocationChanged,
			Target: notify.Room(inc.ID),
			Payload: LocationPayload{
				IncidentID:  inc.ID,
				ResponderID: actor.ID,
				Location:    location,
			},
		})
	}
	s.publish(ctx, events...)

	log.WithField("active_incidents", len(active)).Debug("Responder location updated")
	return user, nil
}
