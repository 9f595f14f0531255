// internal/orchestrator/recorder.go
package orchestrator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"simbridge/pkg/core"
)

// Route leg markers written to route_log.csv.
const (
	RouteEventStart = "start"
	RouteEventStop  = "stop"
)

// Recorder appends run telemetry to three CSV logs under one directory:
// sampled positions (pos.csv), route leg starts and stops (route_log.csv)
// and applied speed commands (speed_log.csv). Headers are written when a
// file is created; reruns append. Rows are flushed as they are written so
// the files stay readable while a run is live. Times are formatted to
// three decimals and coordinates to six, matching the downstream tooling.
type Recorder struct {
	mu    sync.Mutex
	pos   *csvLog
	route *csvLog
	speed *csvLog
}

// NewRecorder opens (or creates) the three logs under dir.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	pos, err := newCSVLog(filepath.Join(dir, "pos.csv"),
		[]string{"target_id", "t_sim", "x", "y", "z"})
	if err != nil {
		return nil, err
	}
	route, err := newCSVLog(filepath.Join(dir, "route_log.csv"),
		[]string{"target_id", "event", "t_host", "t_sim", "ref_msg_id"})
	if err != nil {
		pos.close()
		return nil, err
	}
	speed, err := newCSVLog(filepath.Join(dir, "speed_log.csv"),
		[]string{"target_id", "t_host", "cmd_id", "speed_mps", "accel_up", "accel_down"})
	if err != nil {
		pos.close()
		route.close()
		return nil, err
	}

	return &Recorder{pos: pos, route: route, speed: speed}, nil
}

// RecordPosition appends one sampled position. A nil tSim leaves the field
// empty.
func (r *Recorder) RecordPosition(targetID string, tSim *float64, pos core.Vec3) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos.append([]string{
		targetID,
		fmtOptSeconds(tSim),
		fmt.Sprintf("%.6f", pos.X),
		fmt.Sprintf("%.6f", pos.Y),
		fmt.Sprintf("%.6f", pos.Z),
	})
}

// RecordRouteEvent appends a start or stop row for one route leg, stamped
// with the host clock. refMsgID is the msg_id of the set.route command the
// leg belongs to.
func (r *Recorder) RecordRouteEvent(targetID, event string, tSim *float64, refMsgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route.append([]string{
		targetID,
		event,
		fmt.Sprintf("%.3f", hostTime()),
		fmtOptSeconds(tSim),
		refMsgID,
	})
}

// RecordSpeedCommand appends one applied speed command. Nil accel overrides
// leave their fields empty.
func (r *Recorder) RecordSpeedCommand(targetID, cmdID string, speed float64, accelUp, accelDown *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed.append([]string{
		targetID,
		fmt.Sprintf("%.3f", hostTime()),
		cmdID,
		fmt.Sprintf("%.3f", speed),
		fmtOptSeconds(accelUp),
		fmtOptSeconds(accelDown),
	})
}

// Close flushes and closes all three logs.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.pos.close(), r.route.close(), r.speed.close())
}

type csvLog struct {
	f *os.File
	w *csv.Writer
}

func newCSVLog(path string, header []string) (*csvLog, error) {
	info, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	l := &csvLog{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := l.append(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header to %s: %w", path, err)
		}
	}
	return l, nil
}

func (l *csvLog) append(row []string) error {
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *csvLog) close() error {
	l.w.Flush()
	writeErr := l.w.Error()
	return errors.Join(writeErr, l.f.Close())
}

func fmtOptSeconds(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", *v)
}

func hostTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
