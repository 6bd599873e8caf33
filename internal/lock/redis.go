package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
	"github.com/sirupsen/logrus"
)

const (
	minRetryDelay = 10 * time.Millisecond
	maxRetryDelay = 200 * time.Millisecond
)

// releaseScript снимает блокировку, только если она все еще принадлежит владельцу токена
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - блокировка через SET NX PX для нескольких экземпляров сервиса.
// TTL ограничивает время жизни блокировки, если владелец упал.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	delay := minRetryDelay

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, apperror.Wrap(apperror.KindUnavailable, err, "timed out waiting for lock "+key)
			}
			return nil, apperror.Wrap(apperror.KindUnavailable, err, fmt.Sprintf("failed to acquire lock %s", key))
		}
		if ok {
			return l.unlockFunc(key, token), nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperror.Wrap(apperror.KindUnavailable, ctx.Err(), "timed out waiting for lock "+key)
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (l *RedisLocker) unlockFunc(key, token string) func() {
	return func() {
		// снятие блокировки не зависит от отмены запроса
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("Failed to release lock, it will expire by TTL")
		}
	}
}
