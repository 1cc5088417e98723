package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/example/civictrack/internal/config"
	"github.com/example/civictrack/internal/db"
	"github.com/example/civictrack/internal/logging"
	"github.com/example/civictrack/internal/repository"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, "text")

	open := func() (repository.Store, func() error, error) {
		return db.NewStore(cfg.StoreDriver, cfg.DatabaseURL, cfg.DBLogLevel)
	}
	if err := newRootCmd(open, cfg, logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
