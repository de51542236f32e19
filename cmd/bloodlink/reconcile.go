package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bloodlink/internal/reconcile"
	"bloodlink/pkg/types"

	"github.com/k0kubun/pp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var reconcileCommand = &cli.Command{
	Name:  "reconcile",
	Usage: "Run reconciliation sweeps once and print the reports",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "sweep",
			Aliases: []string{"s"},
			Usage:   "Sweep to run (stuck-donations, unit-owners, request-fulfillment); repeatable, default all",
		},
		&cli.BoolFlag{
			Name:  "print",
			Usage: "Pretty-print reports instead of writing JSON",
		},
	},
	Action: runReconcile,
}

func runReconcile(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.StoreDriver == storeDriverMemory {
		return fmt.Errorf("reconcile needs STORE_DRIVER=postgres")
	}

	logger := newLogger(cfg)

	var sweeps []reconcile.Sweep
	for _, name := range c.StringSlice("sweep") {
		sweep := reconcile.Sweep(name)
		if !sweep.Valid() {
			return types.NewError(types.KindValidation, "reconcile", "unknown sweep %q", name)
		}
		sweeps = append(sweeps, sweep)
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	coord, closeCoord, err := buildCoordinator(ctx, cfg, st, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer closeCoord()

	system := types.Principal{ID: reconcile.Performer, Role: types.RoleAdmin}
	reports, err := coord.RunReconciliationSweep(ctx, system, sweeps...)
	if err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}

	for _, report := range reports {
		logger.WithFields(logrus.Fields{
			"sweep":      report.Sweep,
			"examined":   report.Examined,
			"changed":    report.Changed,
			"violations": len(report.Violations),
			"skipped":    len(report.Skipped),
		}).Info("sweep finished")
	}

	if c.Bool("print") {
		_, err := pp.Println(reports)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
