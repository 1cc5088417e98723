package db

import (
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
)

// New creates a new GORM database connection using the provided DSN.
// logLevel is one of silent, error, warn or info.
func New(dsn, logLevel string) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  parseLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	slog.Info("connected to database")
	return db, nil
}

// Migrate creates or updates the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Application{},
		&models.StatusUpdate{},
		&models.Document{},
	)
	return errors.Wrap(err, "auto migrate")
}

func parseLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// NewStore opens the store selected by driver. The postgres store is migrated
// before use; memory keeps everything in process and is lost on exit.
func NewStore(driver, dsn, logLevel string) (repository.Store, func() error, error) {
	switch strings.ToLower(driver) {
	case "memory":
		slog.Warn("using in-memory store, data will not survive a restart")
		return repository.NewMemoryStore(), func() error { return nil }, nil
	case "postgres", "":
		database, err := New(dsn, logLevel)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(database); err != nil {
			return nil, nil, err
		}
		sqlDB, err := database.DB()
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		return repository.NewGormStore(database), sqlDB.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", driver)
	}
}
