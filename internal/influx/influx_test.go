package influx

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simbridge/internal/config"
	"simbridge/pkg/core"
)

func TestTrackPoint_LineProtocol(t *testing.T) {
	s := &core.TrackSample{
		TargetID:      "CUBE_1",
		TSim:          12.4,
		Position:      core.Vec3{X: 1.5, Y: 0, Z: -3.25},
		Speed:         2.5,
		WaypointIndex: 1,
		RouteActive:   true,
	}

	line := influxdb2_write.PointToLineProtocol(trackPoint("demo_scene", s), time.Nanosecond)

	assert.Contains(t, line, "track,")
	assert.Contains(t, line, "scene=demo_scene")
	assert.Contains(t, line, "target=CUBE_1")
	assert.Contains(t, line, "speed_mps=2.5")
	assert.Contains(t, line, "route_active=true")
}

func TestEventPoint_LineProtocol(t *testing.T) {
	e := &core.EventRecord{
		Name:     "route.complete",
		TargetID: "CUBE_2",
		RefMsgID: "m-17",
		TSim:     31.2,
	}

	line := influxdb2_write.PointToLineProtocol(eventPoint("demo_scene", e), time.Nanosecond)

	assert.Contains(t, line, "event,")
	assert.Contains(t, line, "name=route.complete")
	assert.Contains(t, line, "target=CUBE_2")
	assert.Contains(t, line, `ref_msg_id="m-17"`)
}

func TestConnect_DisabledReturnsError(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: false}, zerolog.Nop())
	require.Error(t, m.Connect())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: true}, zerolog.Nop())

	err := m.WriteTrackSample("demo_scene", &core.TrackSample{TargetID: "CUBE_1"})
	require.Error(t, err)
}

func TestConnect_FallsBackToBackupWriter(t *testing.T) {
	cfg := config.InfluxConfig{
		Enabled:      true,
		URL:          "http://127.0.0.1:1", // nothing listens here
		Org:          "simbridge",
		TracksBucket: "tracks",
		EventsBucket: "events",
		BackupDir:    t.TempDir(),
	}
	m := NewManager(cfg, zerolog.Nop())

	require.NoError(t, m.Connect(), "ping failure should fall back, not fail")
	assert.False(t, m.IsValid)

	s := &core.TrackSample{TargetID: "CUBE_1", TSim: 0.2, Speed: 1.0}
	require.NoError(t, m.WriteTrackSample("demo_scene", s))
	require.NoError(t, m.WriteEvent("demo_scene", &core.EventRecord{Name: "link.up"}))
	m.Close()

	entries, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(cfg.BackupDir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	assert.Contains(t, string(raw), "track,")
	assert.Contains(t, string(raw), "event,")
}
