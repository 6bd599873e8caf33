package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job - периодическая задача; ошибка только логируется
type Job func(ctx context.Context) error

type Cron struct {
	c       *cron.Cron
	logger  *logrus.Logger
	timeout time.Duration
}

// NewCron создает планировщик; timeout ограничивает время одного запуска задачи
func NewCron(logger *logrus.Logger, timeout time.Duration) *Cron {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Cron{c: c, logger: logger, timeout: timeout}
}

// Add регистрирует задачу по cron-выражению (поддерживаются "@every 1m" и т.п.)
func (cr *Cron) Add(name, expr string, job Job) (cron.EntryID, error) {
	id, err := cr.c.AddFunc(expr, func() {
		ctx := context.Background()
		if cr.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cr.timeout)
			defer cancel()
		}
		log := cr.logger.WithField("job", name)
		start := time.Now()
		if err := job(ctx); err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("Scheduled job finished")
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule job %s with %q: %w", name, expr, err)
	}
	return id, nil
}

// Run запускает планировщик и блокируется до отмены контекста
func (cr *Cron) Run(ctx context.Context) error {
	cr.logger.WithField("jobs", len(cr.c.Entries())).Info("Starting scheduler")
	cr.c.Start()
	<-ctx.Done()
	stopCtx := cr.c.Stop()
	<-stopCtx.Done()
	cr.logger.Info("Scheduler stopped")
	return nil
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }
