package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/metrics"
	"github.com/shenikar/emergency_dispatch_system/internal/notify"
	"github.com/sirupsen/logrus"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

// WebhookWorker - структура для обработки и отправки вебхуков
type WebhookWorker struct {
	redisClient *redis.Client
	logger      *logrus.Logger
	cfg         *config.Config
	httpClient  *http.Client
}

// NewWebhookWorker создает новый WebhookWorker
func NewWebhookWorker(redisClient *redis.Client, logger *logrus.Logger, cfg *config.Config) *WebhookWorker {
	return &WebhookWorker{
		redisClient: redisClient,
		logger:      logger,
		cfg:         cfg,
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
		},
	}
}

// Start обрабатывает очередь вебхуков до отмены контекста
func (w *WebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook worker...")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping webhook worker.")
			return nil
		default:
		}

		// BRPOP - блокирующее извлечение из правой части списка (очереди), 0 - бесконечное ожидание
		result, err := w.redisClient.BRPop(ctx, 0, webhookQueueKey).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.WithError(err).Error("Failed to pop webhook event from Redis")
			sleepCtx(ctx, w.cfg.WebhookTimeout) // Ждем перед повторной попыткой
			continue
		}

		// result[0] - ключ, result[1] - значение
		payload := result[1]
		var env notify.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			w.logger.WithError(err).Error("Failed to unmarshal webhook event from Redis")
			continue
		}

		w.processWebhookEvent(ctx, env, payload)
	}
}

func (w *WebhookWorker) processWebhookEvent(ctx context.Context, env notify.Envelope, rawPayload string) {
	log := w.logger.WithFields(logrus.Fields{
		"event":  env.Name,
		"target": env.Target.String(),
	})
	log.Debug("Processing webhook event...")

	if w.cfg.WebhookURL == "" {
		log.Warn("Webhook URL is not configured. Skipping webhook delivery.")
		return
	}

	maxRetries := max(w.cfg.WebhookMaxRetries, 1)
	delay := w.cfg.WebhookBaseDelay

	for i := 0; i < maxRetries; i++ {
		err := w.deliver(ctx, env.Name, rawPayload)
		if err == nil {
			log.Info("Webhook delivered successfully.")
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		if i == maxRetries-1 {
			break
		}
		log.WithError(err).Warnf("Webhook delivery failed. Retrying in %v. Retries left: %d", delay, maxRetries-1-i)
		if !sleepCtx(ctx, delay) {
			log.Warn("Webhook delivery interrupted by shutdown")
			metrics.WebhookDeliveries.WithLabelValues("abandoned").Inc()
			return
		}
		delay *= 2 // Экспоненциальная задержка
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	log.Errorf("Failed to deliver webhook for event after %d attempts.", maxRetries)
}

func (w *WebhookWorker) deliver(ctx context.Context, name, rawPayload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewBufferString(rawPayload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, name)

	// HMAC подпись, если WEBHOOK_SECRET задан
	if w.cfg.WebhookSecret != "" {
		req.Header.Set(SignatureHeader, generateHMACSHA256(rawPayload, w.cfg.WebhookSecret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint responded with status %d", resp.StatusCode)
	}
	return nil
}

// sleepCtx ждет d; false, если контекст отменен раньше
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// generateHMACSHA256 генерирует HMAC-SHA256 подпись для данных
func generateHMACSHA256(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
