// Package datastore opens the gorm database shared by the civic workflow and
// the database slot backend.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// Store wraps a gorm connection with the dialect it was opened with.
type Store struct {
	DB      *gorm.DB
	Dialect string
}

// Open connects to the configured database. SQLite parent directories are
// created on demand; the path ":memory:" opens a private in-memory database.
func Open(cfg *conf.DatabaseSettings, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "":
		path := cfg.SQLite.Path
		if path == "" {
			path = ":memory:"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, errors.New(err).
					Component("datastore").
					Category(errors.CategoryFileIO).
					Context("path", path).
					Build()
			}
			path += "?_busy_timeout=5000&_journal_mode=WAL"
		}
		dialector = sqlite.Open(path)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.MySQL.Username, cfg.MySQL.Password, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.Database)
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported database type %q", cfg.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.NewGormLoggerAdapter(log.Module("gorm"), cfg.SlowQueryThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dialect", dialector.Name()).
			Build()
	}

	if dialector.Name() == "sqlite" {
		// one connection: serializes writers and keeps :memory: databases alive
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	log.Info("database opened", logger.String("dialect", dialector.Name()))
	return &Store{DB: db, Dialect: dialector.Name()}, nil
}

// Migrate creates or updates the tables for models.
func (s *Store) Migrate(models ...any) error {
	if err := s.DB.AutoMigrate(models...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
