package main

import (
	"os"

	"bloodlink/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "bloodlink",
		Usage:   "Blood donation coordination service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-prefix",
				Aliases: []string{"p"},
				Usage:   "Environment variable prefix",
				Value:   "APP",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Override STORE_DRIVER (postgres or memory)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override LOG_LEVEL",
			},
		},
		Commands: []*cli.Command{
			serveCommand,
			reconcileCommand,
			seedCommand,
			migrateCommand,
			nanoidCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).WithField("kind", types.KindOf(err)).Error("application failed")
		os.Exit(exitCode(err))
	}
}

// exitCode separates bad input from runtime failures for scripts driving the
// CLI.
func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.KindValidation:
		return 2
	case types.KindForbidden:
		return 3
	}
	return 1
}
