// Package internal wires the analytics engine into a cartridge application.
package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub013/internal/config"
	"github.com/wp-statistics/wp-statistics-sub013/internal/database"
	"github.com/wp-statistics/wp-statistics-sub013/internal/labels"
)

// Application wraps cartridge.Application with the analytics components
type Application struct {
	*cartridge.Application
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Engine    *analytics.Engine
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db := dbManager.GetConnection()
	engine, err := NewEngine(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:         cfg,
		Logger:         logger,
		DBManager:      dbManager,
		ServerConfig:   NewServerConfig(),
		RouteMountFunc: MountAppRoutes(cfg, engine, db),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		Config:      cfg,
		Logger:      logger,
		DBManager:   dbManager,
		Engine:      engine,
	}, nil
}

// NewEngine builds the query engine from configuration.
func NewEngine(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*analytics.Engine, error) {
	labeler, err := labels.New(db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	return analytics.NewEngine(db, logger, labeler, analytics.Options{
		Workers:           cfg.QueryWorkers,
		Timeout:           cfg.GetQueryTimeout(),
		FactRetentionDays: cfg.FactRetentionDays,
		DefaultPerPage:    cfg.DefaultPerPage,
		MaxPerPage:        cfg.MaxPerPage,
		PreviousPolicy:    cfg.GetComparisonPolicy(),
		Now:               time.Now,
	}), nil
}
