package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

type IncidentType string

const (
	TypeFire     IncidentType = "fire"
	TypeMedical  IncidentType = "medical"
	TypePolice   IncidentType = "police"
	TypeDisaster IncidentType = "disaster"
	TypeOther    IncidentType = "other"
)

func (t IncidentType) Valid() bool {
	switch t {
	case TypeFire, TypeMedical, TypePolice, TypeDisaster, TypeOther:
		return true
	}
	return false
}

// Specialization возвращает специализацию, совпадающую с типом инцидента, если она есть
func (t IncidentType) Specialization() (Specialization, bool) {
	s := Specialization(t)
	return s, s.Valid()
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusReported            Status = "reported"
	StatusAssigned            Status = "assigned"
	StatusInProgress          Status = "in_progress"
	StatusPendingReassignment Status = "pending_reassignment"
	StatusResolved            Status = "resolved"
	StatusClosed              Status = "closed"
	StatusDeclined            Status = "declined"
)

// AllStatuses - полный набор статусов инцидента
var AllStatuses = []Status{
	StatusReported,
	StatusAssigned,
	StatusInProgress,
	StatusPendingReassignment,
	StatusResolved,
	StatusClosed,
	StatusDeclined,
}

func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// statusTransitions - переходы, доступные через ChangeStatus.
// assigned и pending_reassignment достигаются только назначением и отказом всех ответственных.
var statusTransitions = map[Status][]Status{
	StatusAssigned:            {StatusInProgress, StatusResolved, StatusDeclined, StatusClosed},
	StatusPendingReassignment: {StatusClosed, StatusDeclined},
	StatusInProgress:          {StatusResolved, StatusClosed},
	StatusResolved:            {StatusClosed},
}

// CanTransition сообщает, разрешен ли ручной переход статуса
func CanTransition(from, to Status) bool {
	return slices.Contains(statusTransitions[from], to)
}

// Assignable - статусы, из которых допускается назначение ответственных
func (s Status) Assignable() bool {
	return s == StatusReported || s == StatusPendingReassignment
}

// AcceptsResponderActions - статусы, в которых ответственные могут принять или отклонить вызов
func (s Status) AcceptsResponderActions() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusPendingReassignment:
		return true
	}
	return false
}

// Active - инцидент, на котором ответственные сейчас работают
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

type Action string

const (
	ActionAccepted Action = "accepted"
	ActionDeclined Action = "declined"
)

func (a Action) Valid() bool {
	return a == ActionAccepted || a == ActionDeclined
}

type ResponderAction struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponderActions - решения ответственных по текущему раунду назначения
type ResponderActions map[uuid.UUID]ResponderAction

type Update struct {
	Message   string    `json:"message"`
	AuthorID  uuid.UUID `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Location struct {
	Point
	Address string `json:"address,omitempty"`
}

type Incident struct {
	ID               uuid.UUID        `json:"id"`
	Type             IncidentType     `json:"type"`
	Severity         Severity         `json:"severity"`
	Description      string           `json:"description"`
	Location         Location         `json:"location"`
	ReportedBy       uuid.UUID        `json:"reported_by"`
	Status           Status           `json:"status"`
	Responders       []uuid.UUID      `json:"responders"`
	ResponderActions ResponderActions `json:"responder_actions"`
	Updates          []Update         `json:"updates"`
	CreatedAt        time.Time        `json:"created_at"`
	AssignedAt       *time.Time       `json:"assigned_at,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Version          int64            `json:"version"`
}

// NewIncident - данные для регистрации инцидента
type NewIncident struct {
	Type        IncidentType
	Severity    Severity
	Description string
	Location    Location
}

func (n NewIncident) Validate() error {
	if !n.Type.Valid() {
		return apperror.Validation("unknown incident type %q", n.Type)
	}
	if !n.Severity.Valid() {
		return apperror.Validation("unknown severity %q", n.Severity)
	}
	if strings.TrimSpace(n.Description) == "" {
		return apperror.Validation("description is required")
	}
	return n.Location.Point.Validate()
}

// IncidentPatch - редактируемые описательные поля; nil означает "не менять"
type IncidentPatch struct {
	Type        *IncidentType
	Severity    *Severity
	Description *string
	Location    *Location
	// Address меняет только адрес, координаты остаются прежними
	Address *string
}

func (p IncidentPatch) Empty() bool {
	return p.Type == nil && p.Severity == nil && p.Description == nil && p.Location == nil && p.Address == nil
}

// HasResponder проверяет, назначен ли ответственный на инцидент в данный момент
func (i *Incident) HasResponder(id uuid.UUID) bool {
	return slices.Contains(i.Responders, id)
}

// Assign полностью заменяет состав ответственных и сбрасывает их решения.
// Проверки выполняются до изменения записи.
func (i *Incident) Assign(responderIDs []uuid.UUID, now time.Time) error {
	if !i.Status.Assignable() {
		return apperror.InvalidState("incident in status %q cannot be assigned", i.Status)
	}
	if len(responderIDs) == 0 {
		return apperror.Validation("at least one responder is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(responderIDs))
	for _, id := range responderIDs {
		if id == uuid.Nil {
			return apperror.Validation("responder id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return apperror.Validation("responder %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	i.Responders = slices.Clone(responderIDs)
	i.ResponderActions = ResponderActions{}
	i.Status = StatusAssigned
	assignedAt := now
	i.AssignedAt = &assignedAt
	return nil
}

// RecordAction записывает решение ответственного и пересчитывает "все отказались"
// по актуальному состоянию. Возвращает true, если инцидент ушел в pending_reassignment.
func (i *Incident) RecordAction(responderID uuid.UUID, action Action, now time.Time) (bool, error) {
	if !action.Valid() {
		return false, apperror.Validation("unknown responder action %q", action)
	}
	if !i.HasResponder(responderID) {
		return false, apperror.NotAssigned("responder %s is not assigned to incident %s", responderID, i.ID)
	}
	if !i.Status.AcceptsResponderActions() {
		return false, apperror.InvalidState("incident in status %q does not accept responder actions", i.Status)
	}

	if i.ResponderActions == nil {
		i.ResponderActions = ResponderActions{}
	}
	i.ResponderActions[responderID] = ResponderAction{Action: action, Timestamp: now}

	if i.Status == StatusAssigned && i.AllDeclined() {
		i.Status = StatusPendingReassignment
		return true, nil
	}
	return false, nil
}

// AllDeclined истинно, если каждый назначенный ответственный отказался
func (i *Incident) AllDeclined() bool {
	if len(i.Responders) == 0 {
		return false
	}
	for _, id := range i.Responders {
		a, ok := i.ResponderActions[id]
		if !ok || a.Action != ActionDeclined {
			return false
		}
	}
	return true
}

// PendingResponders - назначенные, но еще не ответившие
func (i *Incident) PendingResponders() []uuid.UUID {
	var pending []uuid.UUID
	for _, id := range i.Responders {
		if _, ok := i.ResponderActions[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// ChangeStatus применяет ручной переход по графу состояний
func (i *Incident) ChangeStatus(to Status, now time.Time) error {
	if !to.Valid() {
		return apperror.Validation("unknown status %q", to)
	}
	if !CanTransition(i.Status, to) {
		return apperror.InvalidState("transition %s -> %s is not allowed", i.Status, to)
	}
	i.Status = to
	if to == StatusResolved {
		resolvedAt := now
		i.ResolvedAt = &resolvedAt
	}
	return nil
}

// AppendUpdate добавляет запись в журнал; журнал только растет
func (i *Incident) AppendUpdate(message string, authorID uuid.UUID, now time.Time) (Update, error) {
	if strings.TrimSpace(message) == "" {
		return Update{}, apperror.Validation("update message is required")
	}
	u := Update{Message: message, AuthorID: authorID, Timestamp: now}
	i.Updates = append(i.Updates, u)
	return u, nil
}

// ApplyPatch меняет описательные поля. Статус и состав ответственных здесь не меняются.
func (i *Incident) ApplyPatch(p IncidentPatch) error {
	if p.Empty() {
		return apperror.Validation("nothing to update")
	}
	if i.Status == StatusClosed {
		return apperror.InvalidState("closed incident cannot be edited")
	}
	if p.Type != nil && !p.Type.Valid() {
		return apperror.Validation("unknown incident type %q", *p.Type)
	}
	if p.Severity != nil && !p.Severity.Valid() {
		return apperror.Validation("unknown severity %q", *p.Severity)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return apperror.Validation("description must not be empty")
	}
	if p.Location != nil {
		if err := p.Location.Point.Validate(); err != nil {
			return err
		}
	}

	if p.Type != nil {
		i.Type = *p.Type
	}
	if p.Severity != nil {
		i.Severity = *p.Severity
	}
	if p.Description != nil {
		i.Description = *p.Description
	}
	if p.Location != nil {
		i.Location = *p.Location
	}
	if p.Address != nil {
		i.Location.Address = *p.Address
	}
	return nil
}

// Clone возвращает глубокую копию записи
func (i *Incident) Clone() *Incident {
	c := *i
	c.Responders = slices.Clone(i.Responders)
	c.Updates = slices.Clone(i.Updates)
	if i.ResponderActions != nil {
		c.ResponderActions = make(ResponderActions, len(i.ResponderActions))
		for k, v := range i.ResponderActions {
			c.ResponderActions[k] = v
		}
	}
	if i.AssignedAt != nil {
		t := *i.AssignedAt
		c.AssignedAt = &t
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
