// Package influx exports live telemetry to InfluxDB: track samples, protocol
// events, and periodic bridge health. When the server is unreachable, points
// are appended to a gzipped line-protocol backup file instead so a run's
// telemetry is never silently discarded.
package influx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"simbridge/internal/config"
	"simbridge/pkg/core"
)

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	cfg          config.InfluxConfig
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	backupFile   *os.File
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
}

// NewManager creates a new InfluxDB manager. Connect must be called before
// the first write.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: []string{cfg.TracksBucket, cfg.EventsBucket},
		Logger:      log,
	}
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer the health ping the manager falls back to the gzipped backup file
// and Connect still succeeds.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return errors.New("influx.Enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(context.Background())

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			if err := m.openBackupWriter(); err != nil {
				return err
			}
		}
	} else {
		m.IsValid = true
	}

	if m.IsValid {
		err = m.setupOrganizationAndBuckets()
		if err != nil {
			return err
		}
		m.CreateWriters()
		m.Logger.Info().Msg("InfluxDB client initialized")
	} else {
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	}

	return nil
}

func (m *Manager) openBackupWriter() error {
	if err := os.MkdirAll(m.cfg.BackupDir, 0755); err != nil {
		return fmt.Errorf("error creating backup dir: %v", err)
	}

	backupPath := filepath.Join(m.cfg.BackupDir,
		fmt.Sprintf("backup_%s.lp.gz", time.Now().Format("20060102_150405")))
	m.Logger.Info().Str("backupPath", backupPath).
		Msg("Failed to initialize InfluxDB client, writing to backup file")

	file, err := os.OpenFile(backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %v", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := m.cfg.Org

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// get influxOrg
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90, // 90 days
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)

		m.Logger.Trace().Str("bucket", bucket).Msg("InfluxDB writer created")
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		if _, ok := m.Writers[bucket]; !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		m.Writers[bucket].WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Duration(1*time.Nanosecond))
	_, err := m.BackupWriter.Write([]byte(lineProtocol))
	if err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
	}

	return nil
}

// WriteTrackSample exports one track sample to the tracks bucket.
func (m *Manager) WriteTrackSample(sceneName string, s *core.TrackSample) error {
	return m.WritePoint(m.cfg.TracksBucket, trackPoint(sceneName, s))
}

// WriteEvent exports one protocol event to the events bucket.
func (m *Manager) WriteEvent(sceneName string, e *core.EventRecord) error {
	return m.WritePoint(m.cfg.EventsBucket, eventPoint(sceneName, e))
}

// WriteHealth exports one bridge health snapshot to the events bucket.
func (m *Manager) WriteHealth(sceneName string, fields map[string]any) error {
	point := influxdb2.NewPoint("bridge_health",
		map[string]string{"scene": sceneName},
		fields,
		time.Now(),
	)
	return m.WritePoint(m.cfg.EventsBucket, point)
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() {
	if m.IsValid {
		for _, w := range m.Writers {
			w.Flush()
		}
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		if err := m.BackupWriter.Close(); err != nil {
			m.Logger.Error().Err(err).Msg("Error closing InfluxDB backup writer")
		}
		if err := m.backupFile.Close(); err != nil {
			m.Logger.Error().Err(err).Msg("Error closing InfluxDB backup file")
		}
	}
}

func trackPoint(sceneName string, s *core.TrackSample) *influxdb2_write.Point {
	return influxdb2.NewPoint("track",
		map[string]string{
			"scene":  sceneName,
			"target": s.TargetID,
		},
		map[string]any{
			"t_sim":          s.TSim,
			"x":              s.Position.X,
			"y":              s.Position.Y,
			"z":              s.Position.Z,
			"speed_mps":      s.Speed,
			"waypoint_index": s.WaypointIndex,
			"route_active":   s.RouteActive,
		},
		time.Now(),
	)
}

func eventPoint(sceneName string, e *core.EventRecord) *influxdb2_write.Point {
	return influxdb2.NewPoint("event",
		map[string]string{
			"scene":  sceneName,
			"target": e.TargetID,
			"name":   e.Name,
		},
		map[string]any{
			"t_sim":      e.TSim,
			"ref_msg_id": e.RefMsgID,
			"detail":     e.Detail,
		},
		time.Now(),
	)
}
