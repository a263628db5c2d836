package main

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/xyths/gridfleet/cmd/utils"
	"github.com/xyths/gridfleet/config"
	"github.com/xyths/gridfleet/exchange"
	"github.com/xyths/gridfleet/grid"
	"github.com/xyths/gridfleet/logger"
	"github.com/xyths/gridfleet/store"
	"github.com/xyths/gridfleet/supervisor"
	"os"
	"os/signal"
	"syscall"
)

var (
	runCommand = &cli.Command{
		Action: run,
		Name:   "run",
		Usage:  "Supervise one grid bot per running account",
	}
	levelsCommand = &cli.Command{
		Action: levels,
		Name:   "levels",
		Usage:  "Print the grid ladder for a price range",
		Flags: []cli.Flag{
			utils.MinPriceFlag,
			utils.MaxPriceFlag,
			utils.NumberFlag,
			utils.DepositFlag,
		},
	}
)

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(utils.ConfigFlag.Name))
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return errors.Wrap(err, "init logger")
	}
	log := logger.Component("main")

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(sigCtx, store.Config{
		Driver:   cfg.Storage.Driver,
		URI:      cfg.Storage.URI,
		Database: cfg.Storage.Database,
	})
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.WithError(err).Warn("close storage")
		}
	}()

	factory := supervisor.ExchangeFactory{
		Exchange: exchange.Options{
			Host:       cfg.Exchange.Host,
			RecvWindow: cfg.Exchange.RecvWindow,
			Timeout:    cfg.Exchange.RequestTimeout(),
		},
		Worker: grid.Config{
			Interval: cfg.Worker.IntervalDuration(),
			Backoff:  cfg.Worker.BackoffDuration(),
		},
		Recorder: db,
	}
	sup := supervisor.New(db, factory, supervisor.Config{
		Interval: cfg.Supervisor.IntervalDuration(),
		Grace:    cfg.Supervisor.GraceDuration(),
	})

	if cfg.Metrics.Listen != "" {
		go func() {
			log.Infof("ops server listening on %s", cfg.Metrics.Listen)
			if err := supervisor.Serve(sigCtx, cfg.Metrics.Listen, sup.Handler()); err != nil {
				log.WithError(err).Error("ops server stopped")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"exchange": cfg.Exchange.Host,
		"storage":  cfg.Storage.Driver,
	}).Info("grid supervisor starting")
	return sup.Run(sigCtx)
}

func levels(ctx *cli.Context) error {
	minPrice, err := decimal.NewFromString(ctx.String(utils.MinPriceFlag.Name))
	if err != nil {
		return errors.Wrap(err, "bad min price")
	}
	maxPrice, err := decimal.NewFromString(ctx.String(utils.MaxPriceFlag.Name))
	if err != nil {
		return errors.Wrap(err, "bad max price")
	}
	deposit, err := decimal.NewFromString(ctx.String(utils.DepositFlag.Name))
	if err != nil {
		return errors.Wrap(err, "bad deposit")
	}
	number := ctx.Int(utils.NumberFlag.Name)
	ladder, err := grid.NewLadder(minPrice, maxPrice, number)
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	fmt.Fprintf(w, "step %s\n", ladder.Step.StringFixed(grid.PricePrecision+2))
	fmt.Fprintf(w, "%4s %12s %12s %12s %12s\n", "#", "buy", "buy qty", "sell", "sell qty")
	for i := range ladder.Buy {
		fmt.Fprintf(w, "%4d %12s %12s %12s %12s\n", i,
			ladder.Buy[i].StringFixed(grid.PricePrecision),
			grid.Quantity(deposit, number, ladder.Buy[i]).StringFixed(grid.AmountPrecision),
			ladder.Sell[i].StringFixed(grid.PricePrecision),
			grid.Quantity(deposit, number, ladder.Sell[i]).StringFixed(grid.AmountPrecision),
		)
	}
	return nil
}
