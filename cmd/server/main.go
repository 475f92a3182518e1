package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/supportta-projects/supporttabillbook-sub001/internal/cache"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/config"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/database"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/logger"
	"github.com/supportta-projects/supporttabillbook-sub001/internal/server"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.Log.WithError(err).Fatal("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel, cfg.IsProduction())

	if err := database.Init(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cache.Init(ctx, cfg.RedisURL); err != nil {
		logger.Log.WithError(err).Warn("redis unavailable, dashboard cache disabled")
	}
	defer cache.Close()

	app := server.New(cfg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithField("port", cfg.HTTPPort).Info("server listening")
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info("shutting down, waiting for pending requests")
		return app.ShutdownWithTimeout(20 * time.Second)
	})
	return g.Wait()
}
