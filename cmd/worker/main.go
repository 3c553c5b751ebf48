// Worker keeps the feeds in the database in sync with their publishers.
//
// It runs a sync cycle on a fixed interval and serves a small control API
// for health checks and on demand syncs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/lavoncyk/rss-reader/internal/database"
	"github.com/lavoncyk/rss-reader/internal/fetch"
	"github.com/lavoncyk/rss-reader/internal/logger"
	"github.com/lavoncyk/rss-reader/internal/server"
	"github.com/lavoncyk/rss-reader/internal/worker"
)

type config struct {
	Database       string `env:"DATABASE, required"`
	DatabaseDriver string `env:"DATABASE_DRIVER, default=sqlite"`
	Port           int    `env:"PORT, default=4445"`

	SyncInterval         time.Duration `env:"SYNC_INTERVAL, default=15m"`
	FetchTimeout         time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	MaxConcurrentFetches int           `env:"MAX_CONCURRENT_FETCHES, default=8"`
	PerHostInterval      time.Duration `env:"PER_HOST_INTERVAL, default=500ms"`
	UserAgent            string        `env:"USER_AGENT"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`
	LogFile      string `env:"LOG_FILE"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l, closer, err := logger.New(logger.Options{
		Format: cfg.LoggerFormat,
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("error configuring logger: %s", err)
	}
	defer closer.Close()
	slog.SetDefault(l)

	// Start the application
	if err := runWorker(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg config) error {
	slog.Info("running",
		"driver", cfg.DatabaseDriver,
		"port", cfg.Port,
		"sync_interval", cfg.SyncInterval,
		"fetch_timeout", cfg.FetchTimeout,
		"max_concurrent_fetches", cfg.MaxConcurrentFetches,
	)

	dbx, err := database.Open(ctx, cfg.DatabaseDriver, cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	// Migrate, always
	if err := database.Migrate(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	var (
		repo    = database.New(dbx)
		fetcher = fetch.New(nil, fetch.Config{
			UserAgent:       cfg.UserAgent,
			PerHostInterval: cfg.PerHostInterval,
		})
		w = worker.New(repo, fetcher, worker.Config{
			Interval:             cfg.SyncInterval,
			FetchTimeout:         cfg.FetchTimeout,
			MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		})
		s = server.New(server.Config{Port: cfg.Port}, repo, w)
	)

	var g run.Group
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}
	{
		g.Add(func() error {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %s", err)
			}

			return nil
		}, func(error) {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.Shutdown(downCtx); err != nil {
				slog.Error("error shutting down server", "error", err)
			}
		})
	}
	{
		wCtx, wCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return w.Run(wCtx)
		}, func(error) {
			wCancel()
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		slog.Info("shut down", "reason", err)
		return nil
	}

	return err
}
