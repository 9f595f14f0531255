// Package postgres implements the storage.Backend interface on a PostgreSQL
// server. All queue and batch-write behavior lives in the embedded GORM
// backend; this package only owns the connection and schema migration.
package postgres

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"simbridge/internal/config"
	"simbridge/internal/database"
	"simbridge/internal/geo"
	"simbridge/internal/logging"
	gormstorage "simbridge/internal/storage/gorm"
)

// Backend wraps the GORM backend over a PostgreSQL connection.
type Backend struct {
	*gormstorage.Backend
	db    *gorm.DB
	dbLog zerolog.Logger
}

// New connects to PostgreSQL and creates the backend. Connection errors are
// returned to the caller so the factory can fall back to SQLite.
func New(cfg config.StorageConfig, anchor *geo.Anchor, logManager *logging.SlogManager, dbLog zerolog.Logger) (*Backend, error) {
	db, err := database.GetPostgresDB(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		Anchor:        anchor,
		LogManager:    logManager,
		WriteInterval: cfg.WriteInterval,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		dbLog:   dbLog,
	}, nil
}

// Init migrates the schema and initializes the embedded GORM backend.
func (b *Backend) Init() error {
	if err := database.Migrate(b.db, b.dbLog); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return b.Backend.Init()
}
