package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bloodlink/internal/inventory"
	"bloodlink/internal/seed"
	"bloodlink/internal/server"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Start the HTTP server",
	Action: serve,
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(cCtx)
	if err != nil {
		return err
	}

	if config.JWKSURL == "" {
		return fmt.Errorf("set JWKS_URL")
	}

	logger := newLogger(config)

	st, closeStore, err := openStore(ctx, config, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if config.StoreDriver == storeDriverMemory {
		ledger := inventory.NewLedger(logger, time.Now)
		if err := seed.All(ctx, st, ledger, 20, io.Discard); err != nil {
			return fmt.Errorf("failed to seed in-memory store: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coord, closeCoord, err := buildCoordinator(ctx, config, st, logger, reg)
	if err != nil {
		return err
	}
	defer closeCoord()

	jwkCache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return fmt.Errorf("failed to initilaize jwk cache: %w", err)
	}

	err = jwkCache.Register(ctx, config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to register jwks with cache: %w", err)
	}

	srv, err := server.New(
		config,
		logger,
		coord,
		reg,
		jwkCache,
		config.JWKSURL,
	)
	if err != nil {
		return err
	}

	go func() {
		logger.WithField("port", config.ServerPort).Infof("server starting http://localhost:%d", config.ServerPort)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Stop(shutdownCtx)
}
