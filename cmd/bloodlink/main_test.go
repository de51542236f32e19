package main

import (
	"errors"
	"fmt"
	"testing"

	"bloodlink/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), 1},
		{"validation", types.NewError(types.KindValidation, "reconcile", "unknown sweep %q", "x"), 2},
		{"wrapped validation", fmt.Errorf("run: %w", types.NewError(types.KindValidation, "op", "bad")), 2},
		{"forbidden", types.NewError(types.KindForbidden, "op", "no"), 3},
		{"conflict", types.NewError(types.KindConcurrentModification, "op", "raced"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func runLoadConfig(t *testing.T, args ...string) (*types.Config, error) {
	t.Helper()

	var (
		cfg     *types.Config
		loadErr error
	)
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-prefix", Value: "BLTEST"},
			&cli.StringFlag{Name: "store"},
			&cli.StringFlag{Name: "log-level"},
		},
		Action: func(c *cli.Context) error {
			cfg, loadErr = loadConfig(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"bloodlink"}, args...)))
	return cfg, loadErr
}

func TestLoadConfig(t *testing.T) {
	t.Run("postgres needs a database url", func(t *testing.T) {
		t.Setenv("BLTEST_STORE_DRIVER", "postgres")
		_, err := runLoadConfig(t)
		assert.Error(t, err)
	})

	t.Run("flags override the environment", func(t *testing.T) {
		t.Setenv("BLTEST_STORE_DRIVER", "postgres")
		t.Setenv("BLTEST_LOG_LEVEL", "warn")

		cfg, err := runLoadConfig(t, "--store", "memory", "--log-level", "debug")
		require.NoError(t, err)
		assert.Equal(t, storeDriverMemory, cfg.StoreDriver)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, int32(10), cfg.DatabaseMaxConns)
		assert.Equal(t, 50, cfg.MatchBatchSize)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := runLoadConfig(t, "--store", "sqlite")
		assert.Error(t, err)
	})
}
