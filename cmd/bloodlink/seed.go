package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bloodlink/internal/inventory"
	"bloodlink/internal/seed"

	"github.com/urfave/cli/v2"
)

var seedCommand = &cli.Command{
	Name:  "seed",
	Usage: "Seed the database with demo organizations, donors and stock",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "units",
			Usage: "Units per stock-holding organization, split across blood groups",
			Value: 20,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.StoreDriver == storeDriverMemory {
			return fmt.Errorf("seed needs STORE_DRIVER=postgres; the memory store is seeded by serve")
		}

		ctx := context.Background()
		logger := newLogger(cfg)

		st, closeStore, err := openStore(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer closeStore()

		logger.Info("Connected to database")

		ledger := inventory.NewLedger(logger, time.Now)
		if err := seed.All(ctx, st, ledger, c.Int("units"), os.Stdout); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}

		logger.Info("Seed complete")

		return nil
	},
}
