package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/lock"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		NearbyRadiusMeters:   10000,
		CandidateLimit:       5,
		SpecialistMinimum:    3,
		StoreTimeout:         time.Second,
		PublishTimeout:       time.Second,
		AdminCacheTTL:        time.Minute,
		AssignmentAckTimeout: 5 * time.Minute,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах
	return logger
}

type serviceMocks struct {
	repo      *mocks.MockIncidentRepository
	users     *mocks.MockUserRepository
	selector  *mocks.MockCandidateSelector
	publisher *recordingPublisher
}

// newTestIncidentService — вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, serviceMocks) {
	ctrl := gomock.NewController(t)
	m := serviceMocks{
		repo:      mocks.NewMockIncidentRepository(ctrl),
		users:     mocks.NewMockUserRepository(ctrl),
		selector:  mocks.NewMockCandidateSelector(ctrl),
		publisher: &recordingPublisher{},
	}

	svc := NewIncidentService(m.repo, m.users, m.selector, lock.NewMemoryLocker(), m.publisher, quietLogger(), testConfig())
	s := svc.(*incidentService)
	s.now = func() time.Time { return fixedNow }
	return s, m
}

func admin() models.Actor {
	return models.Actor{ID: uuid.New(), Role: models.RoleAdmin}
}

func assignedIncident(responders ...uuid.UUID) *models.Incident {
	at := fixedNow.Add(-time.Hour)
	return &models.Incident{
		ID:               uuid.New(),
		Type:             models.TypeFire,
		Severity:         models.SeverityHigh,
		Description:      "warehouse fire",
		Location:         models.Location{Point: models.Point{Latitude: 10, Longitude: 20}},
		ReportedBy:       uuid.New(),
		Status:           models.StatusAssigned,
		Responders:       responders,
		ResponderActions: models.ResponderActions{},
		AssignedAt:       &at,
		CreatedAt:        at,
		Version:          3,
	}
}

func TestReportIncident_Success(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	ctx := context.Background()
	reporter := models.Actor{ID: uuid.New(), Role: models.RoleUser}
	adminID := uuid.New()
	near := models.Candidate{User: models.User{ID: uuid.New(), Name: "Crew 7", Role: models.RoleResponder, IsAvailable: true}, DistanceMeters: 420}
	in := models.NewIncident{
		Type:        models.TypeFire,
		Severity:    models.SeverityHigh,
		Description: "  smoke from the roof ",
		Location:    models.Location{Point: models.Point{Latitude: 10, Longitude: 20}},
	}

	// Ожидания
	var created *models.Incident
	m.repo.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, inc *models.Incident) error {
			created = inc
			return nil
		}).
		Times(1)
	m.users.EXPECT().FindByIDs(gomock.Any(), []uuid.UUID{reporter.ID}).
		Return([]*models.User{{ID: reporter.ID, Name: "Reporter", Email: "r@example.com"}}, nil)
	m.users.EXPECT().ListAdminIDs(gomock.Any()).Return([]uuid.UUID{adminID}, nil)
	m.selector.EXPECT().
		Select(gomock.Any(), models.TypeFire, in.Location.Point, 10000.0, 5).
		Return([]models.Candidate{near}, nil)

	// Действие
	view, err := s.ReportIncident(ctx, reporter, in)

	// Проверки
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, models.StatusReported, view.Status)
	assert.Equal(t, "smoke from the roof", view.Description)
	assert.Equal(t, reporter.ID, view.ReportedBy)
	assert.Empty(t, view.Responders)
	assert.Nil(t, view.AssignedAt)
	assert.Equal(t, fixedNow, view.CreatedAt)
	require.NotNil(t, view.Reporter)
	assert.Equal(t, "Reporter", view.Reporter.Name)

	assert.Equal(t, []string{
		notify.EventIncidentCreated,
		notify.EventAdminNewIncidentNotice,
		notify.EventIncidentNearbyNotice,
		notify.EventAdminCandidatesFound,
	}, m.publisher.names())
	assert.Equal(t, notify.Broadcast(), m.publisher.events[0].Target)
	assert.Equal(t, notify.User(adminID), m.publisher.events[1].Target)
	assert.Equal(t, notify.User(near.ID), m.publisher.events[2].Target)
	payload := m.publisher.events[3].Payload.(CandidatesPayload)
	require.Len(t, payload.Candidates, 1)
	assert.Equal(t, 420.0, payload.Candidates[0].DistanceMeters)
}

func TestReportIncident_NoCandidatesAndSelectorFailure(t *testing.T) {
	tests := []struct {
		name      string
		selectErr error
		want      []string
	}{
		{
			name: "no candidates",
			want: []string{notify.EventIncidentCreated, notify.EventAdminNewIncidentNotice, notify.EventAdminNoCandidates},
		},
		{
			name:      "selector failure is not fatal",
			selectErr: apperror.Wrap(apperror.KindUnavailable, errors.New("timeout"), "nearby query"),
			want:      []string{notify.EventIncidentCreated, notify.EventAdminNewIncidentNotice},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := newTestIncidentService(t)
			reporter := models.Actor{ID: uuid.New(), Role: models.RoleUser}

			m.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
			m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)
			m.users.EXPECT().ListAdminIDs(gomock.Any()).Return([]uuid.UUID{uuid.New()}, nil)
			m.selector.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tt.selectErr)

			view, err := s.ReportIncident(context.Background(), reporter, models.NewIncident{
				Type:        models.TypeOther,
				Severity:    models.SeverityLow,
				Description: "fallen tree",
				Location:    models.Location{Point: models.Point{Latitude: 1, Longitude: 1}},
			})

			require.NoError(t, err)
			assert.Equal(t, models.StatusReported, view.Status)
			assert.Equal(t, tt.want, m.publisher.names())
		})
	}
}

func TestReportIncident_ValidationFails(t *testing.T) {
	// Подготовка
	s, _ := newTestIncidentService(t)

	// Действие: репозиторий не должен вызываться
	_, err := s.ReportIncident(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleUser}, models.NewIncident{
		Type:     models.TypeFire,
		Severity: models.SeverityHigh,
		Location: models.Location{Point: models.Point{Latitude: 10, Longitude: 20}},
	})

	// Проверки
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestReportIncident_StoreFailure(t *testing.T) {
	s, m := newTestIncidentService(t)
	storeErr := apperror.Wrap(apperror.KindUnavailable, context.DeadlineExceeded, "insert incident")

	m.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(storeErr)

	_, err := s.ReportIncident(context.Background(), models.Actor{ID: uuid.New()}, models.NewIncident{
		Type:        models.TypeMedical,
		Severity:    models.SeverityCritical,
		Description: "cardiac arrest",
		Location:    models.Location{Point: models.Point{Latitude: 10, Longitude: 20}},
	})

	require.Error(t, err)
	assert.True(t, apperror.Retryable(err))
	assert.Empty(t, m.publisher.events)
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	inc := assignedIncident()

	// Ожидания
	m.repo.EXPECT().
		GetIncidentFromCache(gomock.Any(), inc.ID).
		Return(inc, nil).
		Times(1)
	m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)

	// Действие
	view, err := s.GetIncident(context.Background(), admin(), inc.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, inc, view.Incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	inc := assignedIncident()

	// Ожидания
	// 1. Промах кеша
	m.repo.EXPECT().GetIncidentFromCache(gomock.Any(), inc.ID).Return(nil, nil)
	// 2. Попадание в БД
	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)
	// 3. Запись в кеш
	m.repo.EXPECT().SetIncidentCache(gomock.Any(), inc).Return(nil)
	m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)

	// Действие
	view, err := s.GetIncident(context.Background(), admin(), inc.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, inc.ID, view.ID)
}

func TestGetIncident_NotFound(t *testing.T) {
	s, m := newTestIncidentService(t)
	id := uuid.New()

	m.repo.EXPECT().GetIncidentFromCache(gomock.Any(), id).Return(nil, fmt.Errorf("redis: connection refused"))
	m.repo.EXPECT().GetByID(gomock.Any(), id).Return(nil, apperror.NotFound("incident %s not found", id))

	view, err := s.GetIncident(context.Background(), admin(), id)

	assert.Nil(t, view)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGetIncident_OtherUsersIncidentHidden(t *testing.T) {
	s, m := newTestIncidentService(t)
	inc := assignedIncident()

	m.repo.EXPECT().GetIncidentFromCache(gomock.Any(), inc.ID).Return(inc, nil)

	_, err := s.GetIncident(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleUser}, inc.ID)

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestListIncidents_UserSeesOwnOnly(t *testing.T) {
	s, m := newTestIncidentService(t)
	user := models.Actor{ID: uuid.New(), Role: models.RoleUser}

	m.repo.EXPECT().
		List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, f models.IncidentFilter) ([]*models.Incident, int, error) {
			assert.Equal(t, user.ID, f.ReportedBy)
			assert.Equal(t, 1, f.Page)
			assert.Equal(t, models.DefaultPageSize, f.Limit)
			return []*models.Incident{}, 0, nil
		})

	page, err := s.ListIncidents(context.Background(), user, models.IncidentFilter{ReportedBy: uuid.New()})

	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.False(t, page.HasNext())
}

func TestListIncidents_InvalidFilter(t *testing.T) {
	s, _ := newTestIncidentService(t)

	_, err := s.ListIncidents(context.Background(), admin(), models.IncidentFilter{Sort: models.Sort{Field: "password"}})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestAssignResponders_NonAdminRejected(t *testing.T) {
	s, _ := newTestIncidentService(t)

	_, err := s.AssignResponders(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleResponder}, uuid.New(), []uuid.UUID{uuid.New()})

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestAssignResponders_UnavailableResponderWritesNothing(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	inc := assignedIncident()
	inc.Status = models.StatusReported
	ok, busy := uuid.New(), uuid.New()

	// Ожидания: Update не вызывается
	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)
	m.users.EXPECT().FindByIDs(gomock.Any(), []uuid.UUID{ok, busy}).Return([]*models.User{
		{ID: ok, Role: models.RoleResponder, IsAvailable: true},
		{ID: busy, Role: models.RoleResponder, IsAvailable: false},
	}, nil)

	// Действие
	_, err := s.AssignResponders(context.Background(), admin(), inc.ID, []uuid.UUID{ok, busy})

	// Проверки
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, models.StatusReported, inc.Status)
	assert.Empty(t, m.publisher.events)
}

func TestAssignResponders_ConflictIsRetryable(t *testing.T) {
	s, m := newTestIncidentService(t)
	inc := assignedIncident()
	inc.Status = models.StatusPendingReassignment
	r := uuid.New()

	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)
	m.users.EXPECT().FindByIDs(gomock.Any(), []uuid.UUID{r}).
		Return([]*models.User{{ID: r, Role: models.RoleResponder, IsAvailable: true}}, nil)
	m.repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(apperror.Conflict("incident %s was modified concurrently", inc.ID))

	_, err := s.AssignResponders(context.Background(), admin(), inc.ID, []uuid.UUID{r})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.True(t, apperror.Retryable(err))
	assert.Empty(t, m.publisher.events)
}

func TestChangeStatus_UnassignedResponderRejected(t *testing.T) {
	s, m := newTestIncidentService(t)
	inc := assignedIncident(uuid.New())

	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)

	_, err := s.ChangeStatus(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleResponder}, inc.ID, models.StatusInProgress)

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestChangeStatus_ResolvedNotifiesAdmins(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	responder := uuid.New()
	inc := assignedIncident(responder)
	inc.Status = models.StatusInProgress
	adminID := uuid.New()

	// Ожидания
	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)
	m.repo.EXPECT().
		Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, next *models.Incident) error {
			assert.Equal(t, models.StatusResolved, next.Status)
			require.NotNil(t, next.ResolvedAt)
			assert.Equal(t, int64(3), next.Version)
			next.Version++
			return nil
		})
	m.repo.EXPECT().
		SetIncidentCache(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cached *models.Incident) error {
			assert.Equal(t, models.StatusResolved, cached.Status)
			assert.Equal(t, int64(4), cached.Version)
			return nil
		}).
		Times(1)
	m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)
	m.users.EXPECT().ListAdminIDs(gomock.Any()).Return([]uuid.UUID{adminID}, nil)

	// Действие
	view, err := s.ChangeStatus(context.Background(), models.Actor{ID: responder, Role: models.RoleResponder}, inc.ID, models.StatusResolved)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, view.Status)
	assert.Equal(t, models.StatusInProgress, inc.Status, "loaded record must not be mutated in place")
	assert.Equal(t, []string{notify.EventIncidentUpdated, notify.EventAdminIncidentResolved}, m.publisher.names())
	assert.Equal(t, notify.Room(inc.ID), m.publisher.events[0].Target)
	resolved := m.publisher.events[1].Payload.(IncidentResolvedPayload)
	assert.Equal(t, responder, resolved.ResolvedBy)
}

func TestChangeStatus_CacheRefreshFailureInvalidates(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	responder := uuid.New()
	inc := assignedIncident(responder)
	inc.Status = models.StatusInProgress

	// Ожидания
	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)
	m.repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
	m.repo.EXPECT().SetIncidentCache(gomock.Any(), gomock.Any()).Return(fmt.Errorf("redis: connection refused")).Times(1)
	m.repo.EXPECT().InvalidateIncidentCache(gomock.Any(), inc.ID).Return(nil).Times(1)
	m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)
	m.users.EXPECT().ListAdminIDs(gomock.Any()).Return(nil, nil)

	// Действие
	view, err := s.ChangeStatus(context.Background(), models.Actor{ID: responder, Role: models.RoleResponder}, inc.ID, models.StatusResolved)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, view.Status)
}

func TestRecordResponderAction_OnBehalfOfAnotherRejected(t *testing.T) {
	s, _ := newTestIncidentService(t)

	_, err := s.RecordResponderAction(context.Background(),
		models.Actor{ID: uuid.New(), Role: models.RoleResponder}, uuid.New(), uuid.New(), models.ActionAccepted)

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestAppendUpdate_EmptyMessage(t *testing.T) {
	s, _ := newTestIncidentService(t)

	_, err := s.AppendUpdate(context.Background(), admin(), uuid.New(), " \n ")

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestAppendUpdate_StrangerRejected(t *testing.T) {
	s, m := newTestIncidentService(t)
	inc := assignedIncident(uuid.New())

	m.repo.EXPECT().GetByID(gomock.Any(), inc.ID).Return(inc, nil)

	_, err := s.AppendUpdate(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleUser}, inc.ID, "hello")

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestListResponderIncidents(t *testing.T) {
	s, m := newTestIncidentService(t)
	responder := models.Actor{ID: uuid.New(), Role: models.RoleResponder}
	inc := assignedIncident(responder.ID)

	m.users.EXPECT().GetByID(gomock.Any(), responder.ID).
		Return(&models.User{ID: responder.ID, Role: models.RoleResponder, Specialization: models.SpecializationFire}, nil)
	m.repo.EXPECT().ListForResponder(gomock.Any(), responder.ID, models.SpecializationFire).Return([]*models.Incident{inc}, nil)
	m.users.EXPECT().FindByIDs(gomock.Any(), gomock.Any()).Return(nil, nil)

	views, err := s.ListResponderIncidents(context.Background(), responder)

	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, inc.ID, views[0].ID)

	_, err = s.ListResponderIncidents(context.Background(), admin())
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestNotifyStaleAssignments(t *testing.T) {
	// Подготовка
	s, m := newTestIncidentService(t)
	a, b := uuid.New(), uuid.New()
	stale := assignedIncident(a, b)
	stale.ResponderActions[a] = models.ResponderAction{Action: models.ActionAccepted, Timestamp: fixedNow}
	answered := assignedIncident(a)
	answered.ResponderActions[a] = models.ResponderAction{Action: models.ActionAccepted, Timestamp: fixedNow}
	adminID := uuid.New()

	// Ожидания
	m.repo.EXPECT().
		ListStaleAssignments(gomock.Any(), fixedNow.Add(-5*time.Minute)).
		Return([]*models.Incident{stale, answered}, nil).
		Times(2)
	m.users.EXPECT().ListAdminIDs(gomock.Any()).Return([]uuid.UUID{adminID}, nil)

	// Действие
	n, err := s.NotifyStaleAssignments(context.Background())

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, []string{notify.EventAdminAssignmentUnacknowledged}, m.publisher.names())
	payload := m.publisher.events[0].Payload.(UnacknowledgedPayload)
	assert.Equal(t, []uuid.UUID{b}, payload.Pending)

	// повторный прогон не шлет то же напоминание
	n, err = s.NotifyStaleAssignments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.publisher.events, 1)
}
