// Seed loads the categories and feeds listed in a YAML file into the
// database, creating or updating them in place.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/sethvargo/go-envconfig"

	"github.com/lavoncyk/rss-reader/internal/database"
	"github.com/lavoncyk/rss-reader/internal/logger"
	"github.com/lavoncyk/rss-reader/internal/seed"
)

type config struct {
	Database       string `env:"DATABASE, required"`
	DatabaseDriver string `env:"DATABASE_DRIVER, default=sqlite"`
	FeedsFile      string `env:"FEEDS_FILE, required"`
	// Delete whatever isn't in the file
	Prune bool `env:"PRUNE, default=false"`

	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l, _, err := logger.New(logger.Options{Format: cfg.LoggerFormat})
	if err != nil {
		log.Fatalf("error configuring logger: %s", err)
	}
	slog.SetDefault(l)

	f, err := seed.Load(cfg.FeedsFile)
	if err != nil {
		log.Fatalf("error loading feeds file: %s", err)
	}

	dbx, err := database.Open(ctx, cfg.DatabaseDriver, cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	if err := database.Migrate(dbx); err != nil {
		log.Fatalf("error migrating: %s", err)
	}

	if _, err := seed.Apply(ctx, database.New(dbx), f, cfg.Prune); err != nil {
		slog.Error("error applying feeds file", "error", err)
		os.Exit(1)
	}
}
