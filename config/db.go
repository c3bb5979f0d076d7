package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ConnectDB opens a pgx pool, retrying with exponential backoff while the database comes up.
func ConnectDB(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	const maxRetries = 5
	delay := 2 * time.Second

	for i := 1; i <= maxRetries; i++ {
		logger.Info("connecting to database", zap.Int("attempt", i), zap.String("host", cfg.Host), zap.String("db", cfg.DBName))

		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, connErr := pgxpool.NewWithConfig(attemptCtx, poolCfg)
		if connErr == nil {
			if connErr = pool.Ping(attemptCtx); connErr == nil {
				cancel()
				logger.Info("database connected")
				return pool, nil
			}
			pool.Close()
		}
		cancel()
		err = connErr

		logger.Warn("database connection failed", zap.Int("attempt", i), zap.Error(err))
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", maxRetries, err)
}
