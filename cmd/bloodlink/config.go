package main

import (
	"context"
	"fmt"

	"bloodlink/internal/coordinator"
	"bloodlink/internal/db"
	"bloodlink/internal/metrics"
	"bloodlink/internal/notify"
	"bloodlink/internal/reconcile"
	"bloodlink/internal/store"
	"bloodlink/internal/store/memory"
	"bloodlink/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	storeDriverPostgres = "postgres"
	storeDriverMemory   = "memory"
)

func loadConfig(cCtx *cli.Context) (*types.Config, error) {
	c := new(types.Config)
	if err := envconfig.Process(cCtx.String("env-prefix"), c); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if driver := cCtx.String("store"); driver != "" {
		c.StoreDriver = driver
	}
	if level := cCtx.String("log-level"); level != "" {
		c.LogLevel = level
	}

	switch c.StoreDriver {
	case storeDriverPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("set DATABASE_URL")
		}
	case storeDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.ServerPort == 0 {
		c.ServerPort = 8080
	}

	if c.ReadTimeoutSec == 0 {
		c.ReadTimeoutSec = 10
	}

	if c.WriteTimeoutSec == 0 {
		c.WriteTimeoutSec = 15
	}

	if c.MatchBatchSize <= 0 {
		c.MatchBatchSize = 50
	}

	return c, nil
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	config, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}

	return config, nil
}

func newLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// openStore returns the configured store and a func that releases it.
func openStore(ctx context.Context, cfg *types.Config, logger logrus.FieldLogger) (store.Store, func(), error) {
	if cfg.StoreDriver == storeDriverMemory {
		logger.Warn("using in-memory store; nothing survives a restart")
		return memory.New(), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	return store.NewPostgres(pool), pool.Close, nil
}

// buildCoordinator wires the notifier chain, the report archive and metrics
// around s. The returned func closes whatever it opened.
func buildCoordinator(ctx context.Context, cfg *types.Config, s store.Store, logger logrus.FieldLogger, reg prometheus.Registerer) (*coordinator.Coordinator, func(), error) {
	opts := coordinator.OptionsFromConfig(cfg)
	opts.Metrics = metrics.New(reg)

	closers := []func(){}
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.RedisURL != "" {
		client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		})
		notifiers = append(notifiers, notify.NewRedis(client, cfg.NotifyChannel))
		logger.WithField("channel", cfg.NotifyChannel).Info("publishing events to redis")
	}
	opts.Notifier = notifiers

	if cfg.ReconcileReportBucket != "" {
		awsConfig, err := loadAWSConfig(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.Archiver = reconcile.NewS3Archiver(s3.NewFromConfig(awsConfig), cfg.ReconcileReportBucket)
	}

	return coordinator.New(s, logger, opts), cleanup, nil
}
