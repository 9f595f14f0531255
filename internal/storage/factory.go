// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"simbridge/internal/config"
	"simbridge/internal/geo"
	"simbridge/internal/logging"
	"simbridge/internal/storage/memory"
	"simbridge/internal/storage/postgres"
	sqlitestorage "simbridge/internal/storage/sqlite"
)

// Compile-time checks that every backend satisfies Backend, and that the
// file-producing backends satisfy Uploadable.
var (
	_ Backend    = (*postgres.Backend)(nil)
	_ Backend    = (*sqlitestorage.Backend)(nil)
	_ Backend    = (*memory.Backend)(nil)
	_ Uploadable = (*sqlitestorage.Backend)(nil)
	_ Uploadable = (*memory.Backend)(nil)
)

// NewBackend creates a storage backend based on configuration.
//
// When the configured Postgres server cannot be reached the factory falls
// back to the SQLite backend so a run is still recorded during a database
// outage.
func NewBackend(cfg config.StorageConfig, anchor *geo.Anchor, logManager *logging.SlogManager, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		b, err := postgres.New(cfg, anchor, logManager, dbLog)
		if err != nil {
			logManager.Logger().Warn("Postgres unavailable, falling back to SQLite", "error", err)
			return sqlitestorage.New(cfg, anchor, logManager, dbLog)
		}
		return b, nil
	case "sqlite":
		return sqlitestorage.New(cfg, anchor, logManager, dbLog)
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
