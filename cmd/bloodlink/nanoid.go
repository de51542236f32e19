package main

import (
	"fmt"

	"bloodlink/internal/utils"

	"github.com/urfave/cli/v2"
)

var nanoidCommand = &cli.Command{
	Name:  "nanoid",
	Usage: "Generate NanoIDs for use in seed files",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"c"},
			Usage:   "Number of IDs to generate",
			Value:   1,
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Record prefix (org, dnr, don, unit, req)",
		},
	},
	Action: func(c *cli.Context) error {
		prefix := c.String("prefix")
		for range c.Int("count") {
			if prefix == "" {
				fmt.Println(utils.NanoID())
				continue
			}
			fmt.Println(utils.PrefixedID(prefix))
		}
		return nil
	},
}
