package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type LockBackend string

const (
	LockMemory LockBackend = "memory"
	LockRedis  LockBackend = "redis"
)

func (b LockBackend) IsValid() bool {
	switch b {
	case LockMemory, LockRedis:
		return true
	}
	return false
}

// Config - структура для хранения конфигурации приложения
type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`

	// Redis Config
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"dispatch_events"`

	// Webhook Config
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"1s"`
	WebhookEvents     []string      `env:"WEBHOOK_EVENTS" envSeparator:","`

	// Dispatch policy
	NearbyRadiusMeters float64 `env:"NEARBY_RADIUS_METERS" envDefault:"10000"`
	CandidateLimit     int     `env:"CANDIDATE_LIMIT" envDefault:"5"`
	SpecialistMinimum  int     `env:"SPECIALIST_MINIMUM" envDefault:"3"`

	// Consistency
	LockBackend    LockBackend   `env:"LOCK_BACKEND" envDefault:"memory"`
	LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"3s"`

	// Caches
	AdminCacheTTL    time.Duration `env:"ADMIN_CACHE_TTL" envDefault:"1m"`
	IncidentCacheTTL time.Duration `env:"INCIDENT_CACHE_TTL" envDefault:"5m"`

	// Assignment watchdog
	AssignmentAckTimeout time.Duration `env:"ASSIGNMENT_ACK_TIMEOUT" envDefault:"5m"`
	WatchdogSchedule     string        `env:"WATCHDOG_SCHEDULE" envDefault:"@every 1m"`

	// HTTP surface
	LocationRateLimit string   `env:"LOCATION_RATE_LIMIT" envDefault:"30-M"`
	WSOriginPatterns  []string `env:"WS_ORIGIN_PATTERNS" envSeparator:","`

	// API Keys for authentication
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые нельзя выразить тегами
func (c *Config) Validate() error {
	if !c.LockBackend.IsValid() {
		return fmt.Errorf("invalid LOCK_BACKEND %q (must be 'memory' or 'redis')", c.LockBackend)
	}
	if c.NearbyRadiusMeters <= 0 {
		return fmt.Errorf("NEARBY_RADIUS_METERS must be positive")
	}
	if c.CandidateLimit <= 0 {
		return fmt.Errorf("CANDIDATE_LIMIT must be positive")
	}
	if c.SpecialistMinimum <= 0 {
		return fmt.Errorf("SPECIALIST_MINIMUM must be positive")
	}
	if c.WebhookMaxRetries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1")
	}
	if c.StoreTimeout <= 0 || c.PublishTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT and PUBLISH_TIMEOUT must be positive")
	}
	return nil
}
