package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/abuse-guard/internal/app"
	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run every sweep once and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		return 1
	}
	app.ConfigureLogging(cfg.Logging)

	if cfg.Storage.Type == "memory" {
		logger.Error("the worker needs a shared store; storage.type memory is only valid for the server")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.Close()

	decay, unlock, retention := a.Workers()

	if *once {
		failed := false
		if _, err := decay.RunOnce(ctx); err != nil {
			logger.Error("decay sweep failed", "error", err)
			failed = true
		}
		if _, err := unlock.RunOnce(ctx); err != nil {
			logger.Error("unlock pass failed", "error", err)
			failed = true
		}
		if _, err := retention.RunOnce(ctx); err != nil {
			logger.Error("retention cleanup failed", "error", err)
			failed = true
		}
		if failed {
			return 1
		}
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { decay.Start(gctx); return nil })
	g.Go(func() error { unlock.Start(gctx); return nil })
	g.Go(func() error { retention.Start(gctx); return nil })

	logger.Info("worker running")
	_ = g.Wait()
	logger.Info("worker stopped")
	return 0
}
