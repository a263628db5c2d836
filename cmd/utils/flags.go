package utils

import "github.com/urfave/cli/v2"

// common flags for cmd
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.json",
		Usage:   "load configuration from `file`",
	}
	MinPriceFlag = &cli.StringFlag{
		Name:     "min",
		Usage:    "lowest grid price",
		Required: true,
	}
	MaxPriceFlag = &cli.StringFlag{
		Name:     "max",
		Usage:    "highest grid price",
		Required: true,
	}
	NumberFlag = &cli.IntFlag{
		Name:    "number",
		Aliases: []string{"n"},
		Value:   10,
		Usage:   "grid count",
	}
	DepositFlag = &cli.StringFlag{
		Name:  "deposit",
		Value: "0",
		Usage: "quote currency split across the grid",
	}
)
