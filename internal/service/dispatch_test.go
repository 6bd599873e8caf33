package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/lock"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/internal/selector"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchEnv struct {
	svc        *incidentService
	responders ResponderService
	incidents  *memIncidents
	users      *memUsers
	publisher  *recordingPublisher
	clock      *time.Time

	admin    models.Actor
	reporter models.Actor
	fire1    *models.User
	fire2    *models.User
	medic    *models.User
	busy     *models.User
}

func responderAt(name string, spec models.Specialization, lat, lon float64, available bool) *models.User {
	return &models.User{
		ID:             uuid.New(),
		Name:           name,
		Email:          name + "@dispatch.local",
		Role:           models.RoleResponder,
		Specialization: spec,
		IsAvailable:    available,
		Location:       &models.Point{Latitude: lat, Longitude: lon},
	}
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	env := &dispatchEnv{
		admin:    models.Actor{ID: uuid.New(), Role: models.RoleAdmin},
		reporter: models.Actor{ID: uuid.New(), Role: models.RoleUser},
		fire1:    responderAt("fire-1", models.SpecializationFire, 10.001, 20, true),
		fire2:    responderAt("fire-2", models.SpecializationFire, 10.002, 20, true),
		medic:    responderAt("medic-1", models.SpecializationMedical, 10.003, 20, true),
		busy:     responderAt("fire-3", models.SpecializationFire, 10.0005, 20, false),
	}
	env.users = newMemUsers(
		&models.User{ID: env.admin.ID, Name: "dispatcher", Role: models.RoleAdmin},
		&models.User{ID: env.reporter.ID, Name: "citizen", Role: models.RoleUser},
		env.fire1, env.fire2, env.medic, env.busy,
	)
	env.incidents = newMemIncidents()
	env.publisher = &recordingPublisher{}

	now := fixedNow
	env.clock = &now
	clock := func() time.Time { return *env.clock }

	cfg := testConfig()
	svc := NewIncidentService(env.incidents, env.users, selector.New(env.users, cfg.SpecialistMinimum),
		lock.NewMemoryLocker(), env.publisher, quietLogger(), cfg)
	env.svc = svc.(*incidentService)
	env.svc.now = clock

	responders := NewResponderService(env.users, env.incidents, env.publisher, quietLogger(), cfg)
	responders.(*responderService).now = clock
	env.responders = responders
	return env
}

func (env *dispatchEnv) report(t *testing.T) *models.IncidentView {
	t.Helper()
	view, err := env.svc.ReportIncident(context.Background(), env.reporter, models.NewIncident{
		Type:        models.TypeFire,
		Severity:    models.SeverityHigh,
		Description: "warehouse fire",
		Location:    models.Location{Point: models.Point{Latitude: 10, Longitude: 20}},
	})
	require.NoError(t, err)
	return view
}

func (env *dispatchEnv) tick(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func actorOf(u *models.User) models.Actor {
	return models.Actor{ID: u.ID, Role: u.Role}
}

func TestDispatch_DeclineAndReassign(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	created := env.report(t)
	assert.Equal(t, models.StatusReported, created.Status)

	// ближайшие пожарные первыми, затем медик для добора
	nearby := env.publisher.to(notify.User(env.fire1.ID))
	require.Len(t, nearby, 1)
	assert.Equal(t, notify.EventIncidentNearbyNotice, nearby[0].Name)
	assert.Empty(t, env.publisher.to(notify.User(env.busy.ID)), "unavailable responder must not be notified")
	found := env.publisher.to(notify.User(env.admin.ID))
	require.Len(t, found, 2)
	candidates := found[1].Payload.(CandidatesPayload).Candidates
	require.Len(t, candidates, 3)
	assert.Equal(t, env.fire1.ID, candidates[0].ID)
	assert.Equal(t, env.fire2.ID, candidates[1].ID)
	assert.Equal(t, env.medic.ID, candidates[2].ID)

	env.tick(time.Minute)
	assigned, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID, env.fire2.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AssignedAt)
	assert.Equal(t, fixedNow.Add(time.Minute), *assigned.AssignedAt)
	assert.Empty(t, assigned.ResponderActions)
	assert.Len(t, assigned.ResponderDetails, 2)

	_, err = env.svc.RecordResponderAction(ctx, actorOf(env.fire1), created.ID, env.fire1.ID, models.ActionDeclined)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, env.incidents.stored(created.ID).Status)

	env.publisher.reset()
	view, err := env.svc.RecordResponderAction(ctx, actorOf(env.fire2), created.ID, env.fire2.ID, models.ActionDeclined)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReassignment, view.Status)
	assert.Contains(t, env.publisher.names(), notify.EventAdminAllDeclined)
	assert.Contains(t, env.publisher.names(), notify.EventIncidentUpdated)

	env.tick(time.Minute)
	reassigned, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.medic.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, reassigned.Status)
	assert.Equal(t, []uuid.UUID{env.medic.ID}, reassigned.Responders)
	assert.Empty(t, reassigned.ResponderActions)
	assert.Equal(t, fixedNow.Add(2*time.Minute), *reassigned.AssignedAt)

	// решение снятого ответственного больше не принимается
	_, err = env.svc.RecordResponderAction(ctx, actorOf(env.fire1), created.ID, env.fire1.ID, models.ActionAccepted)
	assert.True(t, errors.Is(err, apperror.ErrNotAssigned))

	stored := env.incidents.stored(created.ID)
	assert.Equal(t, int64(5), stored.Version)
}

func TestDispatch_AcceptStartResolveClose(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)

	_, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)

	view, err := env.svc.RecordResponderAction(ctx, actorOf(env.fire1), created.ID, env.fire1.ID, models.ActionAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, view.Status)
	assert.Equal(t, models.ActionAccepted, view.ResponderActions[env.fire1.ID].Action)

	for _, next := range []models.Status{models.StatusInProgress, models.StatusResolved} {
		view, err = env.svc.ChangeStatus(ctx, actorOf(env.fire1), created.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, view.Status)
	}
	require.NotNil(t, view.ResolvedAt)

	// посторонний ответственный закрыть инцидент не может, диспетчер может
	_, err = env.svc.ChangeStatus(ctx, actorOf(env.fire2), created.ID, models.StatusClosed)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	view, err = env.svc.ChangeStatus(ctx, env.admin, created.ID, models.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, view.Status)

	_, err = env.svc.UpdateIncidentFields(ctx, env.admin, created.ID, models.IncidentPatch{Description: ptr("late edit")})
	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
}

func TestDispatch_ActionReachesIncidentRoom(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)
	_, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID, env.fire2.ID})
	require.NoError(t, err)

	for _, action := range []models.Action{models.ActionAccepted, models.ActionDeclined} {
		env.publisher.reset()
		responder := env.fire1
		if action == models.ActionDeclined {
			responder = env.fire2
		}

		_, err := env.svc.RecordResponderAction(ctx, actorOf(responder), created.ID, responder.ID, action)
		require.NoError(t, err)

		room := env.publisher.to(notify.Room(created.ID))
		require.Len(t, room, 1, action)
		assert.Equal(t, notify.EventIncidentUpdated, room[0].Name)
		updated := room[0].Payload.(IncidentUpdatedPayload)
		assert.Equal(t, changeAction, updated.Change)
		assert.Equal(t, models.StatusAssigned, updated.Status)
		assert.Equal(t, action, updated.ResponderActions[responder.ID].Action)

		toAdmin := env.publisher.to(notify.User(env.admin.ID))
		require.Len(t, toAdmin, 1, action)
		assert.Equal(t, notify.EventResponderActionRecorded, toAdmin[0].Name)
		recorded := toAdmin[0].Payload.(ResponderActionPayload)
		assert.Equal(t, responder.ID, recorded.ResponderID)
		assert.Equal(t, responder.Name, recorded.ResponderName)
		assert.Equal(t, models.SpecializationFire, recorded.Specialization)
		assert.Equal(t, action, recorded.Action)
	}
	assert.NotContains(t, env.publisher.names(), notify.EventAdminAllDeclined)
}

func TestDispatch_ReportedCannotJumpToInProgress(t *testing.T) {
	env := newDispatchEnv(t)
	created := env.report(t)

	_, err := env.svc.ChangeStatus(context.Background(), env.admin, created.ID, models.StatusInProgress)

	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
	stored := env.incidents.stored(created.ID)
	assert.Equal(t, models.StatusReported, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestDispatch_AssignIsAllOrNothing(t *testing.T) {
	env := newDispatchEnv(t)
	created := env.report(t)
	env.publisher.reset()

	_, err := env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{env.fire1.ID, env.busy.ID})

	assert.True(t, errors.Is(err, apperror.ErrValidation))
	stored := env.incidents.stored(created.ID)
	assert.Equal(t, models.StatusReported, stored.Status)
	assert.Empty(t, stored.Responders)
	assert.Empty(t, env.publisher.events)

	_, err = env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{env.fire1.ID, uuid.New()})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{env.reporter.ID})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestDispatch_AssignRejectedOutsideAssignableStatuses(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)

	_, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)

	_, err = env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire2.ID})
	assert.True(t, errors.Is(err, apperror.ErrInvalidState))
	assert.Equal(t, []uuid.UUID{env.fire1.ID}, env.incidents.stored(created.ID).Responders)
}

func TestDispatch_PublishFailureIsNotFatal(t *testing.T) {
	env := newDispatchEnv(t)
	env.publisher.err = errors.New("redis: connection refused")

	created := env.report(t)
	view, err := env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{env.fire1.ID})

	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, view.Status)
	assert.Equal(t, models.StatusAssigned, env.incidents.stored(created.ID).Status)
}

func TestDispatch_ConcurrentAssignmentsSerialize(t *testing.T) {
	env := newDispatchEnv(t)
	created := env.report(t)
	env.incidents.updateDelay = 20 * time.Millisecond

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for _, rid := range []uuid.UUID{env.fire1.ID, env.fire2.ID, env.medic.ID} {
		wg.Add(1)
		go func(rid uuid.UUID) {
			defer wg.Done()
			_, err := env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{rid})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}(rid)
	}
	wg.Wait()

	// первый назначивший выигрывает, остальные видят уже assigned
	assert.Equal(t, 1, succeeded)
	require.Len(t, failures, 2)
	for _, err := range failures {
		assert.True(t, errors.Is(err, apperror.ErrInvalidState), err.Error())
	}
	stored := env.incidents.stored(created.ID)
	assert.Len(t, stored.Responders, 1)
	assert.Equal(t, int64(2), stored.Version)
}

func TestDispatch_ConcurrentDeclinesReachPendingReassignment(t *testing.T) {
	env := newDispatchEnv(t)
	created := env.report(t)
	_, err := env.svc.AssignResponders(context.Background(), env.admin, created.ID, []uuid.UUID{env.fire1.ID, env.fire2.ID})
	require.NoError(t, err)
	env.incidents.updateDelay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for _, r := range []*models.User{env.fire1, env.fire2} {
		wg.Add(1)
		go func(r *models.User) {
			defer wg.Done()
			_, err := env.svc.RecordResponderAction(context.Background(), actorOf(r), created.ID, r.ID, models.ActionDeclined)
			assert.NoError(t, err)
		}(r)
	}
	wg.Wait()

	stored := env.incidents.stored(created.ID)
	assert.Equal(t, models.StatusPendingReassignment, stored.Status)
	assert.Len(t, stored.ResponderActions, 2)
}

func TestDispatch_CacheFillDoesNotOverwriteNewerVersion(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)

	repo := newCachingIncidents(env.incidents)
	cfg := testConfig()
	svc := NewIncidentService(repo, env.users, selector.New(env.users, cfg.SpecialistMinimum),
		lock.NewMemoryLocker(), env.publisher, quietLogger(), cfg)

	// назначение фиксируется между чтением из бд и записью в кэш
	var assignErr error
	repo.afterRead = func() {
		_, assignErr = svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID})
	}

	first, err := svc.GetIncident(ctx, env.admin, created.ID)
	require.NoError(t, err)
	require.NoError(t, assignErr)
	assert.Equal(t, models.StatusReported, first.Status)

	cached, err := repo.GetIncidentFromCache(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(2), cached.Version)

	view, err := svc.GetIncident(ctx, env.admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, view.Status)
	assert.Equal(t, []uuid.UUID{env.fire1.ID}, view.Responders)
}

func TestDispatch_UpdatesAreAppendOnly(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)
	_, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)

	env.publisher.reset()
	_, err = env.svc.AppendUpdate(ctx, env.reporter, created.ID, "smoke is getting thicker")
	require.NoError(t, err)
	env.tick(time.Second)
	view, err := env.svc.AppendUpdate(ctx, actorOf(env.fire1), created.ID, "on scene")
	require.NoError(t, err)

	require.Len(t, view.Updates, 2)
	assert.Equal(t, "smoke is getting thicker", view.Updates[0].Message)
	assert.Equal(t, env.reporter.ID, view.Updates[0].AuthorID)
	assert.Equal(t, env.fire1.ID, view.Updates[1].AuthorID)
	assert.True(t, view.Updates[1].Timestamp.After(view.Updates[0].Timestamp))

	room := env.publisher.to(notify.Room(created.ID))
	require.Len(t, room, 2)
	assert.Equal(t, notify.EventUpdateAdded, room[0].Name)

	_, err = env.svc.AppendUpdate(ctx, actorOf(env.medic), created.ID, "not my call")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestDispatch_UpdateFields(t *testing.T) {
	env := newDispatchEnv(t)
	created := env.report(t)
	critical := models.SeverityCritical

	view, err := env.svc.UpdateIncidentFields(context.Background(), env.reporter, created.ID, models.IncidentPatch{Severity: &critical})

	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, view.Severity)
	assert.Equal(t, "warehouse fire", view.Description)
	assert.Equal(t, models.StatusReported, view.Status)
}

func TestDispatch_ResponderIncidentsAndListing(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	first := env.report(t)
	env.tick(time.Minute)
	second := env.report(t)
	_, err := env.svc.AssignResponders(ctx, env.admin, first.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)
	_, err = env.svc.AssignResponders(ctx, env.admin, second.ID, []uuid.UUID{env.medic.ID})
	require.NoError(t, err)

	// второй пожарный видит оба назначенных пожара своей специализации
	views, err := env.svc.ListResponderIncidents(ctx, actorOf(env.fire2))
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)

	views, err = env.svc.ListResponderIncidents(ctx, actorOf(env.medic))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, second.ID, views[0].ID)

	page, err := env.svc.ListIncidents(ctx, env.admin, models.IncidentFilter{Statuses: []models.Status{models.StatusAssigned}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasNext())
}

func TestDispatch_StaleAssignmentReminder(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	created := env.report(t)
	_, err := env.svc.AssignResponders(ctx, env.admin, created.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)

	n, err := env.svc.NotifyStaleAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.publisher.reset()
	env.tick(10 * time.Minute)
	n, err = env.svc.NotifyStaleAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{notify.EventAdminAssignmentUnacknowledged}, env.publisher.names())

	// ответ снимает напоминание, статус при этом не менялся
	_, err = env.svc.RecordResponderAction(ctx, actorOf(env.fire1), created.ID, env.fire1.ID, models.ActionAccepted)
	require.NoError(t, err)
	n, err = env.svc.NotifyStaleAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.StatusAssigned, env.incidents.stored(created.ID).Status)
}

func TestResponderService_LocationReachesActiveIncidents(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()
	active := env.report(t)
	idle := env.report(t)
	_, err := env.svc.AssignResponders(ctx, env.admin, active.ID, []uuid.UUID{env.fire1.ID})
	require.NoError(t, err)

	env.publisher.reset()
	user, err := env.responders.UpdateLocation(ctx, actorOf(env.fire1), models.Point{Latitude: 10.01, Longitude: 20.01})
	require.NoError(t, err)
	require.NotNil(t, user.Location)
	assert.Equal(t, 10.01, user.Location.Latitude)

	require.Len(t, env.publisher.to(notify.Room(active.ID)), 1)
	assert.Empty(t, env.publisher.to(notify.Room(idle.ID)))
	payload := env.publisher.events[0].Payload.(LocationPayload)
	assert.Equal(t, env.fire1.ID, payload.ResponderID)

	_, err = env.responders.UpdateLocation(ctx, actorOf(env.fire1), models.Point{Latitude: 91})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	_, err = env.responders.UpdateLocation(ctx, env.admin, models.Point{})
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestResponderService_AvailabilityAndQueries(t *testing.T) {
	env := newDispatchEnv(t)
	ctx := context.Background()

	user, err := env.responders.UpdateAvailability(ctx, actorOf(env.fire2), false)
	require.NoError(t, err)
	assert.False(t, user.IsAvailable)
	require.Equal(t, []string{notify.EventResponderAvailabilityChanged}, env.publisher.names())
	assert.Equal(t, notify.Broadcast(), env.publisher.events[0].Target)

	available, err := env.responders.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 2)

	all, err := env.responders.ListResponders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	fire, err := env.responders.ListBySpecialization(ctx, models.SpecializationFire)
	require.NoError(t, err)
	assert.Len(t, fire, 3)
	_, err = env.responders.ListBySpecialization(ctx, "plumbing")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	nearby, err := env.responders.ListNearby(ctx, models.Point{Latitude: 10, Longitude: 20}, 0, models.SpecializationNone)
	require.NoError(t, err)
	require.Len(t, nearby, 2)
	assert.Equal(t, env.fire1.ID, nearby[0].ID)
	assert.Equal(t, env.medic.ID, nearby[1].ID)

	nearby, err = env.responders.ListNearby(ctx, models.Point{Latitude: 10, Longitude: 20}, 150, models.SpecializationNone)
	require.NoError(t, err)
	assert.Len(t, nearby, 1)
}

func ptr[T any](v T) *T {
	return &v
}
