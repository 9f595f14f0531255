// Package sqlitestorage implements the storage.Backend interface using an
// in-memory SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend via composition — the only SQLite-specific
// concerns are (a) creating the in-memory DB, (b) the periodic disk dump,
// and (c) exposing the final dump as the uploadable run artifact.
package sqlitestorage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"simbridge/internal/config"
	"simbridge/internal/database"
	"simbridge/internal/geo"
	"simbridge/internal/logging"
	gormstorage "simbridge/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *logging.SlogManager
	dbLog    zerolog.Logger
	stopChan chan struct{}

	mu           sync.Mutex
	lastDumpPath string
}

// New creates a new SQLite storage backend backed by an in-memory database.
func New(cfg config.StorageConfig, anchor *geo.Anchor, logManager *logging.SlogManager, dbLog zerolog.Logger) (*Backend, error) {
	db, err := database.GetSqliteDB("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		Anchor:        anchor,
		LogManager:    logManager,
		WriteInterval: cfg.WriteInterval,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg.SQLite,
		log:      logManager,
		dbLog:    dbLog,
		stopChan: make(chan struct{}),
	}, nil
}

// Init migrates the schema, initializes the embedded GORM backend, and
// starts the dump goroutine.
func (b *Backend) Init() error {
	if err := database.Migrate(b.db, b.dbLog); err != nil {
		return err
	}
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(b.cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
		if b.cfg.DumpInterval > 0 {
			go b.dumpLoop()
		}
	}

	return nil
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	close(b.stopChan)
	return b.Backend.Close()
}

// EndSession flushes the embedded backend and writes the final disk dump,
// which becomes the uploadable run artifact.
func (b *Backend) EndSession(durationSeconds float64) error {
	if err := b.Backend.EndSession(durationSeconds); err != nil {
		return err
	}

	if b.cfg.DBPath == "" {
		return nil
	}
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DBPath); err != nil {
		return fmt.Errorf("final dump failed: %w", err)
	}

	b.mu.Lock()
	b.lastDumpPath = b.cfg.DBPath
	b.mu.Unlock()
	return nil
}

// GetExportedFilePath returns the most recent disk dump, or "" before the
// first dump lands.
func (b *Backend) GetExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDumpPath
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via
// VACUUM INTO. VACUUM INTO creates a point-in-time snapshot, so no pause
// mechanism is needed.
func (b *Backend) dumpLoop() {
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DBPath); err != nil {
				b.log.Logger().Error("Dumping run database to disk failed", "error", err)
				continue
			}
			b.log.Logger().Debug("Dumped run database to disk", "path", b.cfg.DBPath, "elapsed", time.Since(start))

			b.mu.Lock()
			b.lastDumpPath = b.cfg.DBPath
			b.mu.Unlock()
		}
	}
}
