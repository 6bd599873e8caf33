package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
)

const (
	maxConns          = 20
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = 30 * time.Second
)

// NewPostgresDB создает пул соединений PostgreSQL и проверяет, что установлен PostGIS
func NewPostgresDB(ctx context.Context, appCfg *config.Config) (*pgxpool.Pool, error) {
	cfgPool, err := pgxpool.ParseConfig(appCfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе конфигурации postgres: %w", err)
	}
	cfgPool.MaxConns = maxConns
	cfgPool.MaxConnIdleTime = maxConnIdleTime
	cfgPool.HealthCheckPeriod = healthCheckPeriod

	dbpool, err := pgxpool.NewWithConfig(ctx, cfgPool)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, appCfg.StoreTimeout)
	defer cancel()

	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("не удалось выполнить ping к postgres: %w", err)
	}

	// геопоиск ответственных требует PostGIS
	var postgisVersion string
	if err := dbpool.QueryRow(pingCtx, "SELECT postgis_version()").Scan(&postgisVersion); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("расширение postgis недоступно: %w", err)
	}

	return dbpool, nil
}
