package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "dispatch_events"

// RedisPublisher публикует события в канал Redis pub/sub, откуда их забирают все экземпляры сервиса
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	env, err := event.Envelope()
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", event.Name, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to redis: %w", event.Name, err)
	}
	return nil
}

// Deliverer передает конверт локальным подключениям
type Deliverer interface {
	Deliver(env Envelope)
}

// Subscriber читает канал событий и передает их локальному хабу
type Subscriber struct {
	client    *redis.Client
	channel   string
	deliverer Deliverer
	logger    *logrus.Logger
}

func NewSubscriber(client *redis.Client, channel string, deliverer Deliverer, logger *logrus.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{
		client:    client,
		channel:   channel,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Start блокируется до отмены контекста или закрытия подписки
func (s *Subscriber) Start(ctx context.Context) error {
	log := s.logger.WithField("channel", s.channel)
	log.Info("Redis event subscriber is running")

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			log.WithError(err).Warn("Failed to close pubsub")
		}
	}()

	msgCh := pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				log.Warn("Pubsub channel closed by Redis")
				return nil
			}
			s.handleMessage(msg.Payload)
		case <-ctx.Done():
			log.Info("Shutting down Redis event subscriber")
			return nil
		}
	}
}

func (s *Subscriber) handleMessage(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.logger.WithError(err).Warn("Failed to unmarshal event envelope")
		return
	}
	s.deliverer.Deliver(env)
}

// Local доставляет события сразу в хаб этого процесса, без Redis
type Local struct {
	Deliverer Deliverer
}

func (l Local) Publish(_ context.Context, event Event) error {
	env, err := event.Envelope()
	if err != nil {
		return err
	}
	l.Deliverer.Deliver(env)
	return nil
}
