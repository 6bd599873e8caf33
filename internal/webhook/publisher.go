package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
)

const (
	webhookQueueKey = "webhook_events"
)

// RedisWebhookPublisher ставит выбранные события диспетчеризации в очередь Redis для внешней системы.
// Реализует notify.Publisher и подключается в общий Fanout.
type RedisWebhookPublisher struct {
	redisClient *redis.Client
	events      map[string]struct{}
}

// NewRedisWebhookPublisher создает издателя; пустой список событий означает "все события"
func NewRedisWebhookPublisher(client *redis.Client, events []string) *RedisWebhookPublisher {
	p := &RedisWebhookPublisher{
		redisClient: client,
	}
	if len(events) > 0 {
		p.events = make(map[string]struct{}, len(events))
		for _, e := range events {
			p.events[e] = struct{}{}
		}
	}
	return p
}

// Accepts сообщает, уходит ли событие во внешнюю систему
func (p *RedisWebhookPublisher) Accepts(name string) bool {
	if p.events == nil {
		return true
	}
	_, ok := p.events[name]
	return ok
}

// Publish публикует событие вебхука в очередь Redis
func (p *RedisWebhookPublisher) Publish(ctx context.Context, event notify.Event) error {
	if !p.Accepts(event.Name) {
		return nil
	}
	env, err := event.Envelope()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	// LPUSH в левую часть списка, воркер забирает справа
	if err := p.redisClient.LPush(ctx, webhookQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish webhook event to Redis: %w", err)
	}
	return nil
}
