// Package db opens the PostgreSQL pool shared by the store and migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"bloodlink/pkg/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const applicationName = "bloodlink"

// PoolConfig turns the database settings into a pgx pool config. The
// bloodlink schema is searched first unless the URL names its own path.
func PoolConfig(config *types.Config) (*pgxpool.Config, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("set DATABASE_URL")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	params := poolConfig.ConnConfig.RuntimeParams
	if _, ok := params["search_path"]; !ok {
		params["search_path"] = "bloodlink"
	}
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = applicationName
	}

	if config.DatabaseMaxConns > 0 {
		poolConfig.MaxConns = config.DatabaseMaxConns
	}
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.MaxConnLifetime = 45 * time.Minute

	return poolConfig, nil
}

// Connect opens the pool and pings it, retrying with a linear backoff up to
// DATABASE_CONNECT_ATTEMPTS times while the database comes up.
func Connect(ctx context.Context, config *types.Config, logger logrus.FieldLogger) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	attempts := max(config.DatabaseConnectAttempts, 1)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= attempts {
			pool.Close()
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}

		wait := time.Duration(attempt) * time.Second
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
		}).Warn("database not ready, retrying")

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	logger.WithFields(logrus.Fields{
		"host":      poolConfig.ConnConfig.Host,
		"database":  poolConfig.ConnConfig.Database,
		"max_conns": poolConfig.MaxConns,
	}).Info("connected to database")

	return pool, nil
}
