package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"marketplace_go/internal/app"
	"marketplace_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	cliApp := &cli.App{
		Name:  "marketd",
		Usage: "escrow marketplace node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.yaml",
				Value:   infra.ResolveConfigPath("config.yaml"),
				EnvVars: []string{"MARKET_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "pprof",
				Usage: "serve pprof on this address (localhost only), empty to disable",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("marketd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if addr := c.String("pprof"); addr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	defer bootstrap.Close()
	if err := bootstrap.Initialize(ctx, c.String("config")); err != nil {
		return err
	}
	bootstrap.PrintBanner()

	slog.Info("Marketplace node operational. Press Ctrl+C to exit.")
	return bootstrap.Run(ctx)
}
