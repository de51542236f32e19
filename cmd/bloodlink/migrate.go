package main

import (
	"context"
	"fmt"

	"bloodlink/internal/db"
	"bloodlink/internal/store"

	"github.com/urfave/cli/v2"
)

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Apply pending schema migrations",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := context.Background()
		logger := newLogger(cfg)

		pool, err := db.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		return store.Migrate(ctx, pool, logger)
	},
}
