package main

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/xyths/gridfleet/cmd/utils"
	"os"
)

var app = &cli.App{
	Name:  "grid",
	Usage: "run grid trading bots for every active account",
	Flags: []cli.Flag{
		utils.ConfigFlag,
	},
	Commands: []*cli.Command{
		runCommand,
		levelsCommand,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
