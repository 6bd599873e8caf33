package service

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

func (p *recordingPublisher) to(target notify.Target) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, e := range p.events {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// memIncidents - хранилище инцидентов в памяти с версионной записью
type memIncidents struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.Incident
	// updateDelay растягивает запись, чтобы конкурирующие вызовы пересекались
	updateDelay time.Duration
}

func newMemIncidents() *memIncidents {
	return &memIncidents{items: make(map[uuid.UUID]*models.Incident)}
}

func (m *memIncidents) Create(_ context.Context, inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[inc.ID] = inc.Clone()
	return nil
}

func (m *memIncidents) GetByID(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("incident %s not found", id)
	}
	return inc.Clone(), nil
}

func (m *memIncidents) Update(_ context.Context, inc *models.Incident) error {
	if m.updateDelay > 0 {
		time.Sleep(m.updateDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[inc.ID]
	if !ok {
		return apperror.NotFound("incident %s not found", inc.ID)
	}
	if current.Version != inc.Version {
		return apperror.Conflict("incident %s was modified concurrently", inc.ID)
	}
	inc.Version++
	m.items[inc.ID] = inc.Clone()
	return nil
}

func (m *memIncidents) List(_ context.Context, f models.IncidentFilter) ([]*models.Incident, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Incident
	for _, inc := range m.items {
		if f.ReportedBy != uuid.Nil && inc.ReportedBy != f.ReportedBy {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, inc.Status) {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	start := min(f.Offset(), total)
	end := min(start+f.Limit, total)
	return out[start:end], total, nil
}

func (m *memIncidents) ListForResponder(_ context.Context, responderID uuid.UUID, spec models.Specialization) ([]*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Incident
	for _, inc := range m.items {
		if inc.Status == models.StatusResolved || inc.Status == models.StatusClosed {
			continue
		}
		waiting := spec != models.SpecializationNone && string(inc.Type) == string(spec) && inc.Status == models.StatusAssigned
		if inc.HasResponder(responderID) || waiting {
			out = append(out, inc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memIncidents) ListActiveForResponder(_ context.Context, responderID uuid.UUID) ([]*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Incident
	for _, inc := range m.items {
		if inc.Status.Active() && inc.HasResponder(responderID) {
			out = append(out, inc.Clone())
		}
	}
	return out, nil
}

func (m *memIncidents) ListStaleAssignments(_ context.Context, assignedBefore time.Time) ([]*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Incident
	for _, inc := range m.items {
		if inc.Status == models.StatusAssigned && inc.AssignedAt != nil && inc.AssignedAt.Before(assignedBefore) {
			out = append(out, inc.Clone())
		}
	}
	return out, nil
}

func (m *memIncidents) GetIncidentFromCache(context.Context, uuid.UUID) (*models.Incident, error) {
	return nil, nil
}

func (m *memIncidents) SetIncidentCache(context.Context, *models.Incident) error { return nil }

func (m *memIncidents) InvalidateIncidentCache(context.Context, uuid.UUID) error { return nil }

func (m *memIncidents) stored(id uuid.UUID) *models.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Clone()
}

// cachingIncidents добавляет к memIncidents кэш с той же семантикой, что у Redis:
// запись не заменяет более новую версию.
type cachingIncidents struct {
	*memIncidents
	cacheMu sync.Mutex
	cache   map[uuid.UUID]*models.Incident
	// afterRead вызывается один раз после очередного чтения из хранилища
	afterRead func()
}

func newCachingIncidents(store *memIncidents) *cachingIncidents {
	return &cachingIncidents{memIncidents: store, cache: make(map[uuid.UUID]*models.Incident)}
}

func (c *cachingIncidents) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := c.memIncidents.GetByID(ctx, id)
	c.cacheMu.Lock()
	hook := c.afterRead
	c.afterRead = nil
	c.cacheMu.Unlock()
	if hook != nil {
		hook()
	}
	return inc, err
}

func (c *cachingIncidents) GetIncidentFromCache(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	inc, ok := c.cache[id]
	if !ok {
		return nil, nil
	}
	return inc.Clone(), nil
}

func (c *cachingIncidents) SetIncidentCache(_ context.Context, inc *models.Incident) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if current, ok := c.cache[inc.ID]; ok && current.Version > inc.Version {
		return nil
	}
	c.cache[inc.ID] = inc.Clone()
	return nil
}

func (c *cachingIncidents) InvalidateIncidentCache(_ context.Context, id uuid.UUID) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	delete(c.cache, id)
	return nil
}

// memUsers - справочник пользователей в памяти
type memUsers struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.User
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{items: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		m.items[u.ID] = u
	}
	return m
}

func (m *memUsers) copyOf(u *models.User) *models.User {
	c := *u
	if u.Location != nil {
		p := *u.Location
		c.Location = &p
	}
	return &c
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("user %s not found", id)
	}
	return m.copyOf(u), nil
}

func (m *memUsers) FindByIDs(_ context.Context, ids []uuid.UUID) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, id := range ids {
		if u, ok := m.items[id]; ok {
			out = append(out, m.copyOf(u))
		}
	}
	return out, nil
}

func (m *memUsers) filter(keep func(*models.User) bool) []*models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, u := range m.items {
		if keep(u) {
			out = append(out, m.copyOf(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *memUsers) ListResponders(context.Context) ([]*models.User, error) {
	return m.filter(func(u *models.User) bool { return u.Role == models.RoleResponder }), nil
}

func (m *memUsers) ListAvailableResponders(context.Context) ([]*models.User, error) {
	return m.filter(func(u *models.User) bool { return u.Role == models.RoleResponder && u.IsAvailable }), nil
}

func (m *memUsers) ListBySpecialization(_ context.Context, spec models.Specialization) ([]*models.User, error) {
	return m.filter(func(u *models.User) bool { return u.Role == models.RoleResponder && u.Specialization == spec }), nil
}

// Nearby считает расстояние по плоской проекции: для тестов точности хватает
func (m *memUsers) Nearby(_ context.Context, q models.NearbyQuery) ([]models.Candidate, error) {
	users := m.filter(func(u *models.User) bool {
		return u.Role == models.RoleResponder && u.IsAvailable && u.Location != nil &&
			(q.Specialization == models.SpecializationNone || u.Specialization == q.Specialization) &&
			!slices.Contains(q.Exclude, u.ID)
	})
	var out []models.Candidate
	for _, u := range users {
		d := math.Hypot(u.Location.Latitude-q.Center.Latitude, u.Location.Longitude-q.Center.Longitude) * 111_000
		if d <= q.RadiusMeters {
			out = append(out, models.Candidate{User: *u, DistanceMeters: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memUsers) ListAdminIDs(context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, u := range m.filter(func(u *models.User) bool { return u.Role == models.RoleAdmin }) {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (m *memUsers) SetAvailability(_ context.Context, id uuid.UUID, available bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok || u.Role != models.RoleResponder {
		return nil, apperror.NotFound("responder %s not found", id)
	}
	u.IsAvailable = available
	return m.copyOf(u), nil
}

func (m *memUsers) SetLocation(_ context.Context, id uuid.UUID, location models.Point) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok || u.Role != models.RoleResponder {
		return nil, apperror.NotFound("responder %s not found", id)
	}
	u.Location = &location
	return m.copyOf(u), nil
}
