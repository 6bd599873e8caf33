package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/lock"
	"github.com/shenikar/emergency_dispatch_system/internal/metrics"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	// Update записывает инцидент, только если версия в бд равна incident.Version, и увеличивает ее.
	// Несовпадение версии - apperror.ErrConflict.
	Update(ctx context.Context, incident *models.Incident) error
	List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error)
	ListForResponder(ctx context.Context, responderID uuid.UUID, spec models.Specialization) ([]*models.Incident, error)
	ListActiveForResponder(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error)
	ListStaleAssignments(ctx context.Context, assignedBefore time.Time) ([]*models.Incident, error)

	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// CandidateSelector подбирает ближайших доступных ответственных для инцидента
type CandidateSelector interface {
	Select(ctx context.Context, incidentType models.IncidentType, at models.Point, radiusMeters float64, limit int) ([]models.Candidate, error)
}

// IncidentService - диспетчерский движок: жизненный цикл инцидента и назначение ответственных
type IncidentService interface {
	ReportIncident(ctx context.Context, actor models.Actor, in models.NewIncident) (*models.IncidentView, error)
	GetIncident(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.IncidentView, error)
	ListIncidents(ctx context.Context, actor models.Actor, filter models.IncidentFilter) (*models.IncidentPage, error)
	UpdateIncidentFields(ctx context.Context, actor models.Actor, id uuid.UUID, patch models.IncidentPatch) (*models.IncidentView, error)
	AppendUpdate(ctx context.Context, actor models.Actor, id uuid.UUID, message string) (*models.IncidentView, error)
	AssignResponders(ctx context.Context, actor models.Actor, id uuid.UUID, responderIDs []uuid.UUID) (*models.IncidentView, error)
	RecordResponderAction(ctx context.Context, actor models.Actor, id, responderID uuid.UUID, action models.Action) (*models.IncidentView, error)
	ChangeStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.Status) (*models.IncidentView, error)
	ListResponderIncidents(ctx context.Context, actor models.Actor) ([]*models.IncidentView, error)
	NotifyStaleAssignments(ctx context.Context) (int, error)
}

type incidentService struct {
	*eventSink
	repo     IncidentRepository
	users    UserRepository
	selector CandidateSelector
	admins   *AdminDirectory
	locker   lock.Locker
	logger   *logrus.Logger
	cfg      *config.Config
	// notified - уже отправленные напоминания о неподтвержденных назначениях
	notified *gocache.Cache
}

func NewIncidentService(
	repo IncidentRepository,
	users UserRepository,
	selector CandidateSelector,
	locker lock.Locker,
	publisher notify.Publisher,
	logger *logrus.Logger,
	cfg *config.Config,
) IncidentService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &incidentService{
		eventSink: &eventSink{
			publisher: publisher,
			logger:    logger,
			timeout:   cfg.PublishTimeout,
			now:       utcNow,
		},
		repo:     repo,
		users:    users,
		selector: selector,
		admins:   NewAdminDirectory(users, cfg.AdminCacheTTL),
		locker:   locker,
		logger:   logger,
		cfg:      cfg,
		notified: gocache.New(24*time.Hour, time.Hour),
	}
}

func (s *incidentService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// ReportIncident регистрирует инцидент в статусе reported и оповещает диспетчеров и ближайших ответственных.
// Автоматического назначения нет.
func (s *incidentService) ReportIncident(ctx context.Context, actor models.Actor, in models.NewIncident) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "ReportIncident",
		"reporter_id": actor.ID,
		"type":        in.Type,
	})
	log.Info("Attempting to report a new incident")

	if actor.ID == uuid.Nil {
		return nil, apperror.Unauthorized("reporter identity is required")
	}
	if err := in.Validate(); err != nil {
		log.WithError(err).Warn("Rejected invalid incident report")
		return nil, err
	}

	now := s.now()
	inc := &models.Incident{
		ID:               uuid.New(),
		Type:             in.Type,
		Severity:         in.Severity,
		Description:      strings.TrimSpace(in.Description),
		Location:         in.Location,
		ReportedBy:       actor.ID,
		Status:           models.StatusReported,
		Responders:       []uuid.UUID{},
		ResponderActions: models.ResponderActions{},
		Updates:          []models.Update{},
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.Create(storeCtx, inc); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, fmt.Errorf("service: could not create incident: %w", err)
	}
	metrics.IncidentsReported.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()

	log = log.WithField("incident_id", inc.ID)
	log.Info("Incident reported successfully")

	view := s.view(ctx, inc)
	admins := s.adminIDs(ctx, log)

	events := []notify.Event{{Name: notify.EventIncidentCreated, Target: notify.Broadcast(), Payload: view}}
	events = append(events, perAdmin(admins, notify.EventAdminNewIncidentNotice, summarize(inc))...)
	events = append(events, s.candidateEvents(ctx, log, inc, admins)...)
	s.publish(ctx, events...)

	return view, nil
}

// candidateEvents ищет ближайших ответственных. Сбой поиска не отменяет регистрацию инцидента.
func (s *incidentService) candidateEvents(ctx context.Context, log *logrus.Entry, inc *models.Incident, admins []uuid.UUID) []notify.Event {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	candidates, err := s.selector.Select(storeCtx, inc.Type, inc.Location.Point, s.cfg.NearbyRadiusMeters, s.cfg.CandidateLimit)
	if err != nil {
		log.WithError(err).Warn("Candidate search failed, nearby responders were not notified")
		return nil
	}
	metrics.CandidatesFound.Observe(float64(len(candidates)))
	log.WithField("candidates", len(candidates)).Info("Candidate search finished")

	summary := summarize(inc)
	payload := CandidatesPayload{
		IncidentID:   inc.ID,
		RadiusMeters: s.cfg.NearbyRadiusMeters,
		Candidates:   make([]CandidateSummary, 0, len(candidates)),
	}
	events := make([]notify.Event, 0, len(candidates)+len(admins))
	for _, c := range candidates {
		events = append(events, notify.Event{
			Name:    notify.EventIncidentNearbyNotice,
			Target:  notify.User(c.ID),
			Payload: NearbyNoticePayload{Incident: summary, DistanceMeters: c.DistanceMeters},
		})
		payload.Candidates = append(payload.Candidates, CandidateSummary{
			ID:             c.ID,
			Name:           c.Name,
			Specialization: c.Specialization,
			DistanceMeters: c.DistanceMeters,
		})
	}

	name := notify.EventAdminCandidatesFound
	if len(candidates) == 0 {
		name = notify.EventAdminNoCandidates
	}
	return append(events, perAdmin(admins, name, payload)...)
}

// GetIncident получает инцидент по ID
func (s *incidentService) GetIncident(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})
	log.Info("Fetching incident by ID")

	inc, err := s.load(ctx, log, id)
	if err != nil {
		logFailure(log, err, "Failed to get incident")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}
	if err := canRead(actor, inc); err != nil {
		log.WithError(err).Warn("Incident access denied")
		return nil, err
	}

	log.Info("Incident fetched successfully")
	return s.view(ctx, inc), nil
}

// load читает инцидент из кэша, при промахе из бд
func (s *incidentService) load(ctx context.Context, log *logrus.Entry, id uuid.UUID) (*models.Incident, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	cached, err := s.repo.GetIncidentFromCache(storeCtx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if cached != nil {
		return cached, nil
	}

	inc, err := s.repo.GetByID(storeCtx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetIncidentCache(storeCtx, inc); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return inc, nil
}

// ListIncidents возвращает страницу инцидентов по фильтру. Заявитель видит только свои инциденты.
func (s *incidentService) ListIncidents(ctx context.Context, actor models.Actor, filter models.IncidentFilter) (*models.IncidentPage, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ListIncidents",
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
	log.Info("Listing incidents")

	if actor.Role == models.RoleUser {
		filter.ReportedBy = actor.ID
	}
	if err := filter.Normalize(); err != nil {
		log.WithError(err).Warn("Rejected invalid incident filter")
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, total, err := s.repo.List(storeCtx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(items)).Info("Incidents listed successfully")
	return &models.IncidentPage{
		Items: s.views(ctx, items),
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	}, nil
}

// UpdateIncidentFields меняет описательные поля инцидента
func (s *incidentService) UpdateIncidentFields(ctx context.Context, actor models.Actor, id uuid.UUID, patch models.IncidentPatch) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateIncidentFields",
		"incident_id": id,
		"actor_id":    actor.ID,
	})
	log.Info("Attempting to update incident fields")

	if patch.Empty() {
		return nil, apperror.Validation("nothing to update")
	}

	_, inc, err := s.mutate(ctx, id, func(_ context.Context, inc *models.Incident) error {
		if err := canContribute(actor, inc); err != nil {
			return err
		}
		return inc.ApplyPatch(patch)
	})
	if err != nil {
		logFailure(log, err, "Failed to update incident fields")
		return nil, fmt.Errorf("service: could not update incident: %w", err)
	}
	log.Info("Incident fields updated successfully")

	view := s.view(ctx, inc)
	s.publish(ctx, s.incidentUpdated(view, changeFields))
	return view, nil
}

// AppendUpdate добавляет запись в журнал инцидента
func (s *incidentService) AppendUpdate(ctx context.Context, actor models.Actor, id uuid.UUID, message string) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "AppendUpdate",
		"incident_id": id,
		"author_id":   actor.ID,
	})
	log.Info("Attempting to append incident update")

	if strings.TrimSpace(message) == "" {
		return nil, apperror.Validation("update message is required")
	}

	var added models.Update
	_, inc, err := s.mutate(ctx, id, func(_ context.Context, inc *models.Incident) error {
		if err := canContribute(actor, inc); err != nil {
			return err
		}
		var err error
		added, err = inc.AppendUpdate(message, actor.ID, s.now())
		return err
	})
	if err != nil {
		logFailure(log, err, "Failed to append incident update")
		return nil, fmt.Errorf("service: could not append update: %w", err)
	}
	log.WithField("updates", len(inc.Updates)).Info("Incident update appended")

	s.publish(ctx, notify.Event{
		Name:    notify.EventUpdateAdded,
		Target:  notify.Room(inc.ID),
		Payload: UpdateAddedPayload{IncidentID: inc.ID, Update: added},
	})
	return s.view(ctx, inc), nil
}

// AssignResponders полностью заменяет состав ответственных. Либо назначаются все, либо никто.
func (s *incidentService) AssignResponders(ctx context.Context, actor models.Actor, id uuid.UUID, responderIDs []uuid.UUID) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "AssignResponders",
		"incident_id": id,
		"actor_id":    actor.ID,
		"responders":  len(responderIDs),
	})
	log.Info("Attempting to assign responders")

	if !actor.IsAdmin() {
		log.Warn("Non-dispatcher attempted to assign responders")
		return nil, apperror.Unauthorized("only dispatchers can assign responders")
	}

	before, inc, err := s.mutate(ctx, id, func(ctx context.Context, inc *models.Incident) error {
		if !inc.Status.Assignable() {
			return apperror.InvalidState("incident in status %q cannot be assigned", inc.Status)
		}
		if len(responderIDs) == 0 {
			return apperror.Validation("at least one responder is required")
		}
		if err := s.checkAvailable(ctx, responderIDs); err != nil {
			return err
		}
		return inc.Assign(responderIDs, s.now())
	})
	if err != nil {
		logFailure(log, err, "Failed to assign responders")
		return nil, fmt.Errorf("service: could not assign responders: %w", err)
	}
	metrics.StatusTransitions.WithLabelValues(string(before.Status), string(inc.Status)).Inc()
	log.Info("Responders assigned successfully")

	view := s.view(ctx, inc)
	summary := summarize(inc)
	events := make([]notify.Event, 0, len(inc.Responders)+2)
	for _, rid := range inc.Responders {
		events = append(events, notify.Event{Name: notify.EventResponderAssigned, Target: notify.User(rid), Payload: summary})
	}
	events = append(events, perAdmin(s.adminIDs(ctx, log), notify.EventAdminAssignmentNotice, AssignmentNoticePayload{
		IncidentID: inc.ID,
		AssignedBy: actor.ID,
		Responders: view.ResponderDetails,
	})...)
	events = append(events, s.incidentUpdated(view, changeAssignment))
	s.publish(ctx, events...)

	return view, nil
}

// checkAvailable проверяет, что каждый id - существующий доступный ответственный
func (s *incidentService) checkAvailable(ctx context.Context, ids []uuid.UUID) error {
	found, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("could not resolve responders: %w", err)
	}
	byID := make(map[uuid.UUID]*models.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	for _, id := range ids {
		u, ok := byID[id]
		switch {
		case !ok:
			return apperror.Validation("responder %s not found", id)
		case u.Role != models.RoleResponder:
			return apperror.Validation("user %s is not a responder", id)
		case !u.IsAvailable:
			return apperror.Validation("responder %s is not available", id)
		}
	}
	return nil
}

// RecordResponderAction записывает решение ответственного. Если отказались все назначенные,
// инцидент уходит в pending_reassignment.
func (s *incidentService) RecordResponderAction(ctx context.Context, actor models.Actor, id, responderID uuid.UUID, action models.Action) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "incident",
		"method":       "RecordResponderAction",
		"incident_id":  id,
		"responder_id": responderID,
		"action":       action,
	})
	log.Info("Attempting to record responder action")

	if actor.ID != responderID && !actor.IsAdmin() {
		log.WithField("actor_id", actor.ID).Warn("Attempt to act on behalf of another responder")
		return nil, apperror.Unauthorized("responders can only answer for themselves")
	}

	var allDeclined bool
	before, inc, err := s.mutate(ctx, id, func(_ context.Context, inc *models.Incident) error {
		var err error
		allDeclined, err = inc.RecordAction(responderID, action, s.now())
		return err
	})
	if err != nil {
		logFailure(log, err, "Failed to record responder action")
		return nil, fmt.Errorf("service: could not record responder action: %w", err)
	}
	metrics.ResponderActions.WithLabelValues(string(action)).Inc()
	log.WithField("all_declined", allDeclined).Info("Responder action recorded")

	view := s.view(ctx, inc)
	admins := s.adminIDs(ctx, log)
	recorded := inc.ResponderActions[responderID]
	payload := ResponderActionPayload{
		IncidentID:  inc.ID,
		ResponderID: responderID,
		Action:      recorded.Action,
		Timestamp:   recorded.Timestamp,
		Status:      inc.Status,
	}
	for _, d := range view.ResponderDetails {
		if d.ID == responderID {
			payload.ResponderName = d.Name
			payload.Specialization = d.Specialization
			break
		}
	}
	events := perAdmin(admins, notify.EventResponderActionRecorded, payload)

	change := changeAction
	if allDeclined {
		metrics.StatusTransitions.WithLabelValues(string(before.Status), string(inc.Status)).Inc()
		events = append(events, perAdmin(admins, notify.EventAdminAllDeclined, IncidentRefPayload{IncidentID: inc.ID})...)
		change = changeStatus
	}
	events = append(events, s.incidentUpdated(view, change))
	s.publish(ctx, events...)

	return view, nil
}

// ChangeStatus применяет ручной переход статуса. Менять статус могут диспетчер и назначенный ответственный.
func (s *incidentService) ChangeStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.Status) (*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "ChangeStatus",
		"incident_id": id,
		"actor_id":    actor.ID,
		"status":      status,
	})
	log.Info("Attempting to change incident status")

	before, inc, err := s.mutate(ctx, id, func(_ context.Context, inc *models.Incident) error {
		if !actor.IsAdmin() && !inc.HasResponder(actor.ID) {
			return apperror.Unauthorized("only dispatchers or assigned responders can change status")
		}
		return inc.ChangeStatus(status, s.now())
	})
	if err != nil {
		logFailure(log, err, "Failed to change incident status")
		return nil, fmt.Errorf("service: could not change status: %w", err)
	}
	metrics.StatusTransitions.WithLabelValues(string(before.Status), string(inc.Status)).Inc()
	log.WithField("from", before.Status).Info("Incident status changed")

	view := s.view(ctx, inc)
	events := []notify.Event{s.incidentUpdated(view, changeStatus)}
	if inc.Status == models.StatusResolved {
		events = append(events, perAdmin(s.adminIDs(ctx, log), notify.EventAdminIncidentResolved, IncidentResolvedPayload{
			IncidentID: inc.ID,
			ResolvedBy: actor.ID,
		})...)
	}
	s.publish(ctx, events...)

	return view, nil
}

// ListResponderIncidents - инциденты ответственного: назначенные на него и ожидающие
// его специализации, без закрытых и решенных, новые первыми
func (s *incidentService) ListResponderIncidents(ctx context.Context, actor models.Actor) ([]*models.IncidentView, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "incident",
		"method":       "ListResponderIncidents",
		"responder_id": actor.ID,
	})
	log.Info("Listing responder incidents")

	if actor.Role != models.RoleResponder {
		return nil, apperror.Unauthorized("only responders have assigned incidents")
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.users.GetByID(storeCtx, actor.ID)
	if err != nil {
		logFailure(log, err, "Failed to load responder")
		return nil, fmt.Errorf("service: could not load responder: %w", err)
	}
	items, err := s.repo.ListForResponder(storeCtx, user.ID, user.Specialization)
	if err != nil {
		log.WithError(err).Error("Failed to list responder incidents from repository")
		return nil, fmt.Errorf("service: could not list responder incidents: %w", err)
	}

	log.WithField("count", len(items)).Info("Responder incidents listed successfully")
	return s.views(ctx, items), nil
}

// NotifyStaleAssignments напоминает диспетчерам о назначениях, на которые не ответили за отведенное время.
// Статус инцидента не меняется. Возвращает число таких инцидентов.
func (s *incidentService) NotifyStaleAssignments(ctx context.Context) (int, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "NotifyStaleAssignments",
	})

	cutoff := s.now().Add(-s.cfg.AssignmentAckTimeout)
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.repo.ListStaleAssignments(storeCtx, cutoff)
	if err != nil {
		log.WithError(err).Error("Failed to list stale assignments")
		return 0, fmt.Errorf("service: could not list stale assignments: %w", err)
	}

	var (
		stale  int
		events []notify.Event
		admins []uuid.UUID
	)
	for _, inc := range items {
		pending := inc.PendingResponders()
		if inc.Status != models.StatusAssigned || inc.AssignedAt == nil || len(pending) == 0 {
			continue
		}
		stale++

		key := inc.ID.String() + ":" + strconv.FormatInt(inc.AssignedAt.UnixNano(), 10)
		if _, seen := s.notified.Get(key); seen {
			continue
		}
		s.notified.SetDefault(key, struct{}{})
		if admins == nil {
			admins = s.adminIDs(ctx, log)
		}
		events = append(events, perAdmin(admins, notify.EventAdminAssignmentUnacknowledged, UnacknowledgedPayload{
			IncidentID: inc.ID,
			AssignedAt: *inc.AssignedAt,
			Pending:    pending,
		})...)
	}
	metrics.UnacknowledgedAssignments.Set(float64(stale))
	if stale > 0 {
		log.WithField("stale", stale).Warn("Assignments are waiting for responder answers")
	}

	s.publish(ctx, events...)
	return stale, nil
}

// mutate выполняет read-modify-write одного инцидента под блокировкой.
// fn меняет копию записи; при ошибке fn в хранилище ничего не пишется.
func (s *incidentService) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, inc *models.Incident) error) (before, after *models.Incident, err error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(storeCtx, lock.IncidentKey(id.String()))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.repo.GetByID(storeCtx, id)
	if err != nil {
		return nil, nil, err
	}
	next := current.Clone()
	if err := fn(storeCtx, next); err != nil {
		return nil, nil, err
	}
	next.UpdatedAt = s.now()
	if err := s.repo.Update(storeCtx, next); err != nil {
		return nil, nil, err
	}
	// кэш получает новую версию; запись более старой версии читателем отбрасывается
	if err := s.repo.SetIncidentCache(storeCtx, next); err != nil {
		s.logger.WithError(err).WithField("incident_id", id).Warn("Failed to refresh incident cache")
		if err := s.repo.InvalidateIncidentCache(storeCtx, id); err != nil {
			s.logger.WithError(err).WithField("incident_id", id).Warn("Failed to invalidate incident cache")
		}
	}
	return current, next, nil
}

func (s *incidentService) incidentUpdated(view *models.IncidentView, change string) notify.Event {
	return notify.Event{
		Name:   notify.EventIncidentUpdated,
		Target: notify.Room(view.ID),
		Payload: IncidentUpdatedPayload{
			Change:           change,
			Status:           view.Status,
			ResponderActions: view.ResponderActions,
			Incident:         view,
		},
	}
}

func (s *incidentService) adminIDs(ctx context.Context, log *logrus.Entry) []uuid.UUID {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	ids, err := s.admins.AdminIDs(storeCtx)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve dispatchers, admin notices skipped")
		return nil
	}
	return ids
}

func (s *incidentService) view(ctx context.Context, inc *models.Incident) *models.IncidentView {
	return s.views(ctx, []*models.Incident{inc})[0]
}

// views собирает проекции с карточками заявителей и ответственных одним запросом к справочнику.
// Если справочник недоступен, проекция отдается без карточек.
func (s *incidentService) views(ctx context.Context, items []*models.Incident) []*models.IncidentView {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if id == uuid.Nil {
			return
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, inc := range items {
		add(inc.ReportedBy)
		for _, rid := range inc.Responders {
			add(rid)
		}
	}

	users := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) > 0 {
		storeCtx, cancel := s.storeCtx(ctx)
		defer cancel()
		found, err := s.users.FindByIDs(storeCtx, ids)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to load user summaries for incident view")
		}
		for _, u := range found {
			users[u.ID] = u
		}
	}

	out := make([]*models.IncidentView, 0, len(items))
	for _, inc := range items {
		v := &models.IncidentView{
			Incident:         inc,
			ResponderDetails: make([]models.UserSummary, 0, len(inc.Responders)),
		}
		if u, ok := users[inc.ReportedBy]; ok {
			summary := u.Summary()
			v.Reporter = &summary
		}
		for _, rid := range inc.Responders {
			if u, ok := users[rid]; ok {
				v.ResponderDetails = append(v.ResponderDetails, u.Summary())
			}
		}
		out = append(out, v)
	}
	return out
}

// canRead: заявитель без ролей видит только свои инциденты
func canRead(actor models.Actor, inc *models.Incident) error {
	if actor.Role == models.RoleUser && inc.ReportedBy != actor.ID {
		return apperror.Unauthorized("incident %s is not visible to this user", inc.ID)
	}
	return nil
}

// canContribute: журнал и описательные поля меняют диспетчер, заявитель и назначенные ответственные
func canContribute(actor models.Actor, inc *models.Incident) error {
	if actor.IsAdmin() || inc.ReportedBy == actor.ID || inc.HasResponder(actor.ID) {
		return nil
	}
	return apperror.Unauthorized("only dispatchers, the reporter or assigned responders can modify incident %s", inc.ID)
}
