// Package gormstorage implements the queue-and-batch half of the GORM-backed
// storage backends. Incoming records are converted to rows immediately and
// drained into the database in transactions by a background writer goroutine.
// The SQLite and Postgres backends compose this with their own connection
// and migration handling.
package gormstorage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"simbridge/internal/geo"
	"simbridge/internal/logging"
	"simbridge/internal/model"
	"simbridge/internal/model/convert"
	"simbridge/internal/queue"
	"simbridge/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB may be nil, in which case the backend runs in queue-only mode and
	// never drains. Tests and composing backends that connect late rely on this.
	DB            *gorm.DB
	Anchor        *geo.Anchor
	LogManager    *logging.SlogManager
	WriteInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Tracks       *queue.Queue[model.TrackSample]
	Routes       *queue.Queue[model.RouteRecord]
	SpeedChanges *queue.Queue[model.SpeedChange]
	Events       *queue.Queue[model.EventRecord]
}

func newQueues() *queues {
	return &queues{
		Tracks:       queue.New[model.TrackSample](),
		Routes:       queue.New[model.RouteRecord](),
		SpeedChanges: queue.New[model.SpeedChange](),
		Events:       queue.New[model.EventRecord](),
	}
}

// Backend implements storage.Backend on GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	stopChan  chan struct{}
	dbReady   bool

	lastDBWriteDuration atomic.Int64 // nanoseconds

	metaMu sync.RWMutex
	meta   core.RunMetadata
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps: deps,
	}
}

// Init creates the internal queues and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})
	b.dbReady = b.deps.DB != nil

	b.startDBWriters()
	return nil
}

// Close stops the DB writer goroutine.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
	}
	return nil
}

// StartSession inserts the session row and assigns the generated ID back to
// the passed pointer so later rows can reference it.
func (b *Backend) StartSession(info *core.SessionInfo) error {
	b.metaMu.Lock()
	b.meta = core.RunMetadata{
		SceneName: info.SceneName,
		StartedAt: info.StartedAt,
		Tag:       info.Tag,
	}
	b.metaMu.Unlock()

	if b.deps.DB == nil {
		return nil
	}

	row := model.Session{
		SceneName:       info.SceneName,
		AnchorLatitude:  info.AnchorLat,
		AnchorLongitude: info.AnchorLon,
		StartTime:       info.StartedAt,
		Tag:             info.Tag,
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}

	info.ID = row.ID
	b.sessionID.Store(uint64(row.ID))
	return nil
}

// EndSession flushes the remaining queued rows and stamps the simulated
// duration onto the session row.
func (b *Backend) EndSession(durationSeconds float64) error {
	b.metaMu.Lock()
	b.meta.Duration = durationSeconds
	b.metaMu.Unlock()

	if b.deps.DB == nil {
		return nil
	}

	b.writeAll()

	id := uint(b.sessionID.Load())
	if id == 0 {
		return nil
	}
	return b.deps.DB.Model(&model.Session{}).
		Where("id = ?", id).
		Update("duration_seconds", durationSeconds).Error
}

// RecordTrack converts and queues a track sample.
func (b *Backend) RecordTrack(s *core.TrackSample) error {
	row := convert.TrackSampleToRow(b.deps.Anchor, *s, time.Now())
	b.queues.Tracks.Push(row)
	return nil
}

// RecordRoute converts and queues a route record.
func (b *Backend) RecordRoute(r *core.RouteRecord) error {
	row := convert.RouteToRow(b.deps.Anchor, *r, time.Now())
	b.queues.Routes.Push(row)
	return nil
}

// RecordSpeedChange converts and queues a speed change.
func (b *Backend) RecordSpeedChange(c *core.SpeedChange) error {
	row := convert.SpeedChangeToRow(*c, time.Now())
	b.queues.SpeedChanges.Push(row)
	return nil
}

// RecordEvent converts and queues a protocol event.
func (b *Backend) RecordEvent(e *core.EventRecord) error {
	row := convert.EventToRow(*e)
	b.queues.Events.Push(row)
	return nil
}

// Pending returns the number of rows waiting in the write queues.
func (b *Backend) Pending() int {
	if b.queues == nil {
		return 0
	}
	return b.queues.Tracks.Len() +
		b.queues.Routes.Len() +
		b.queues.SpeedChanges.Len() +
		b.queues.Events.Len()
}

// GetLastDBWriteDuration returns how long the most recent drain took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastDBWriteDuration.Load())
}

// GetExportMetadata describes the run for upload manifests.
func (b *Backend) GetExportMetadata() core.RunMetadata {
	b.metaMu.RLock()
	defer b.metaMu.RUnlock()
	return b.meta
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Batch insert failed, requeueing", "queue", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}

	tx.Commit()
}

// writeAll drains every queue into the database, stamping the current
// session ID onto each row.
func (b *Backend) writeAll() {
	if b.Pending() == 0 {
		return
	}

	log := b.deps.LogManager.Logger()
	sessionID := uint(b.sessionID.Load())

	stampTracks := func(items []model.TrackSample) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	}
	stampRoutes := func(items []model.RouteRecord) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	}
	stampSpeedChanges := func(items []model.SpeedChange) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	}
	stampEvents := func(items []model.EventRecord) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	}

	start := time.Now()
	writeQueue(b.deps.DB, b.queues.Tracks, "track samples", log, stampTracks)
	writeQueue(b.deps.DB, b.queues.Routes, "route records", log, stampRoutes)
	writeQueue(b.deps.DB, b.queues.SpeedChanges, "speed changes", log, stampSpeedChanges)
	writeQueue(b.deps.DB, b.queues.Events, "event records", log, stampEvents)
	b.lastDBWriteDuration.Store(int64(time.Since(start)))
}

// startDBWriters starts the background goroutine that periodically drains
// queues into the DB.
func (b *Backend) startDBWriters() {
	interval := b.deps.WriteInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	go func() {
		for {
			select {
			case <-b.stopChan:
				return
			default:
			}

			if !b.dbReady {
				time.Sleep(1 * time.Second)
				continue
			}

			b.writeAll()
			time.Sleep(interval)
		}
	}()
}
