package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Имена событий, которые публикует диспетчерский движок
const (
	EventIncidentCreated               = "incident_created"
	EventAdminNewIncidentNotice        = "admin_new_incident_notice"
	EventIncidentNearbyNotice          = "incident_nearby_notice"
	EventAdminCandidatesFound          = "admin_candidates_found"
	EventAdminNoCandidates             = "admin_no_candidates"
	EventResponderAssigned             = "responder_assigned"
	EventAdminAssignmentNotice         = "admin_assignment_notice"
	EventIncidentUpdated               = "incident_updated"
	EventUpdateAdded                   = "update_added"
	EventResponderActionRecorded       = "responder_action_recorded"
	EventAdminAllDeclined              = "admin_all_declined"
	EventAdminIncidentResolved         = "admin_incident_resolved"
	EventResponderAvailabilityChanged  = "responder_availability_changed"
	EventResponderLocationChanged      = "responder_location_changed"
	EventAdminAssignmentUnacknowledged = "admin_assignment_unacknowledged"
)

type TargetKind string

const (
	TargetBroadcast TargetKind = "broadcast"
	TargetUser      TargetKind = "user"
	TargetRoom      TargetKind = "room"
)

// Target - адресат события: все подписчики, одна личность или комната инцидента
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

func Broadcast() Target {
	return Target{Kind: TargetBroadcast}
}

func User(id fmt.Stringer) Target {
	return Target{Kind: TargetUser, ID: id.String()}
}

func Room(incidentID fmt.Stringer) Target {
	return Target{Kind: TargetRoom, ID: incidentID.String()}
}

func (t Target) String() string {
	if t.ID == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.ID
}

type Event struct {
	Name       string
	Target     Target
	Payload    any
	OccurredAt time.Time
}

// Envelope - событие в виде для передачи по каналу
type Envelope struct {
	Name       string          `json:"name"`
	Target     Target          `json:"target"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e Event) Envelope() (Envelope, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", e.Name, err)
	}
	occurredAt := e.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return Envelope{
		Name:       e.Name,
		Target:     e.Target,
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}

// Publisher доставляет события подключенным подписчикам по принципу best-effort
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout публикует событие во все издатели; ошибка одного не мешает остальным
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop ничего не доставляет
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}
