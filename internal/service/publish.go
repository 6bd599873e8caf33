package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/metrics"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// eventSink публикует события после фиксации изменений. Ошибки доставки логируются и не
// возвращаются вызывающему: изменение уже записано.
type eventSink struct {
	publisher notify.Publisher
	logger    *logrus.Logger
	timeout   time.Duration
	now       func() time.Time
}

func (s *eventSink) publish(ctx context.Context, events ...notify.Event) {
	if len(events) == 0 {
		return
	}
	// отмена запроса не должна обрывать рассылку уже зафиксированного изменения
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	now := s.now()
	for _, e := range events {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		if err := s.publisher.Publish(ctx, e); err != nil {
			metrics.NotificationFailures.WithLabelValues(e.Name).Inc()
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event":  e.Name,
				"target": e.Target.String(),
			}).Warn("Failed to publish event")
		}
	}
}

func perAdmin(admins []uuid.UUID, name string, payload any) []notify.Event {
	events := make([]notify.Event, 0, len(admins))
	for _, id := range admins {
		events = append(events, notify.Event{Name: name, Target: notify.User(id), Payload: payload})
	}
	return events
}

// logFailure пишет отказы предметной области в Warn, а сбои хранилища в Error
func logFailure(log *logrus.Entry, err error, msg string) {
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindNotFound, apperror.KindUnauthorized,
		apperror.KindInvalidState, apperror.KindNotAssigned, apperror.KindConflict:
		log.WithError(err).Warn(msg)
	default:
		log.WithError(err).Error(msg)
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
