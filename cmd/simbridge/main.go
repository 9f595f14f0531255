// Command simbridge runs the world-simulation bridge: it hosts a scene of
// simulated objects, drives their motion at a fixed tick rate, and holds the
// duplex WebSocket link the orchestrator uses to query positions and command
// routes. Telemetry flows through the dispatcher into the configured storage
// backend and, when enabled, to InfluxDB.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"simbridge/internal/api"
	"simbridge/internal/bridge"
	"simbridge/internal/config"
	"simbridge/internal/dispatcher"
	"simbridge/internal/geo"
	"simbridge/internal/influx"
	"simbridge/internal/logging"
	"simbridge/internal/monitor"
	"simbridge/internal/motion"
	intotel "simbridge/internal/otel"
	"simbridge/internal/protocol"
	"simbridge/internal/registry"
	"simbridge/internal/scene"
	"simbridge/internal/storage"
	"simbridge/internal/worker"
	"simbridge/internal/world"
	"simbridge/pkg/core"
)

const appName = "simbridge"

// Set at build time via ldflags.
var (
	version   = "0.0.1"
	buildDate = "unknown"
)

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing simbridge.cfg.json")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (built %s)\n", appName, version, buildDate)
		return
	}

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	session := world.NewSession()

	logManager := logging.NewSlogManager()

	if err := config.Load(configDir); err != nil {
		// Defaults cover every key, so a missing config file is not fatal.
		logManager.Logger().Warn("Failed to load config, using defaults", "error", err)
	}

	logFile, err := openLogFile(session.StartedAt())
	if err != nil {
		return err
	}
	defer logFile.Close()

	otelProvider, err := setupOTel(logFile)
	if err != nil {
		return err
	}

	setupLogging(logManager, logFile, otelProvider)
	logger := logManager.Logger()
	logger.Info("Starting up", "version", version, "build_date", buildDate)

	sc, err := loadScene(config.GetWorldConfig())
	if err != nil {
		return err
	}
	session.SetScene(sc)
	logger.Info("Scene loaded", "scene", sc.Name, "objects", len(sc.Objects))

	clock := world.NewClock()

	// From here on every log line carries the scene and current sim time.
	logManager.Context = func() []slog.Attr {
		return []slog.Attr{
			slog.String("scene", session.SceneName()),
			slog.Float64("t_sim", clock.Now()),
		}
	}

	worldCfg := config.GetWorldConfig()
	lat, lon := resolveAnchor(sc, worldCfg)
	anchor := geo.NewAnchor(lat, lon)

	// Database and dispatcher internals log structured JSON into the same
	// session log file.
	zlog := zerolog.New(logFile).With().Timestamp().Logger()

	backend, err := storage.NewBackend(config.GetStorageConfig(), anchor, logManager, zlog)
	if err != nil {
		return fmt.Errorf("creating storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}

	info := core.SessionInfo{
		SceneName: sc.Name,
		AnchorLat: lat,
		AnchorLon: lon,
		StartedAt: session.StartedAt(),
		Tag:       config.GetString("defaultTag"),
	}
	if err := backend.StartSession(&info); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	logger.Info("Session started", "session_id", info.ID, "tag", info.Tag)

	influxMgr := setupInflux(zlog, logger)

	disp, err := dispatcher.New(logging.NewDispatcherLogger(zlog))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	reg := registry.Build(sc, buildLimits(config.GetMotionConfig()), logger)

	workerMgr := worker.NewManager(worker.Dependencies{
		SceneName:  sc.Name,
		LogManager: logManager,
		Influx:     influxMgr,
	}, backend)
	workerMgr.RegisterHandlers(disp)

	link, err := bridge.New(config.GetLinkConfig(), func(raw []byte) {
		_, err := disp.Dispatch(dispatcher.Event{
			Name:     protocol.EventLinkFrame,
			Payload:  raw,
			Received: time.Now(),
		})
		if err != nil {
			logger.Debug("inbound frame dropped", "error", err)
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("creating link manager: %w", err)
	}

	proto := protocol.New(protocol.Dependencies{
		Registry:   reg,
		Clock:      clock,
		Sender:     link,
		Dispatcher: disp,
		Logger:     logger,
	})
	proto.RegisterHandlers(disp)
	reg.WireCompletions(proto.EmitRouteComplete)

	host := world.NewHost(world.Dependencies{
		Clock:      clock,
		Registry:   reg,
		Dispatcher: disp,
		Logger:     logger,
	}, worldCfg.TickRate, worldCfg.SampleRate)

	mon := monitor.NewService(monitor.Dependencies{
		Link:       link,
		Host:       host,
		Clock:      clock,
		Dispatcher: disp,
		Worker:     workerMgr,
		Influx:     influxMgr,
		SceneName:  sc.Name,
		LogManager: logManager,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host.Start()
	if err := mon.Start(); err != nil {
		logger.Warn("status monitor failed to start", "error", err)
	}

	linkDone := make(chan error, 1)
	go func() { linkDone <- link.Run(ctx) }()

	logger.Info("Bridge running", "link_url", config.GetLinkConfig().URL)
	<-ctx.Done()
	logger.Info("Shutting down")

	mon.Stop()
	host.Stop()

	select {
	case <-linkDone:
	case <-time.After(5 * time.Second):
		logger.Warn("link manager did not stop in time")
	}

	if err := backend.EndSession(clock.Now()); err != nil {
		logger.Error("ending session failed", "error", err)
	}

	uploadRun(backend, logger)

	if err := backend.Close(); err != nil {
		logger.Error("closing storage backend failed", "error", err)
	}
	if influxMgr != nil {
		influxMgr.Close()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := logManager.Flush(flushCtx); err != nil {
		logger.Warn("log flush failed", "error", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(flushCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	}

	logger.Info("Shutdown complete", "elapsed", session.Elapsed().Round(time.Second).String())
	return nil
}

func openLogFile(sessionStart time.Time) (*os.File, error) {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	path := logging.LogFilePath(logsDir, appName, sessionStart)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func setupOTel(logFile *os.File) (*intotel.Provider, error) {
	cfg := config.GetOTelConfig()
	if !cfg.Enabled {
		return nil, nil
	}

	p, err := intotel.New(intotel.Config{
		Enabled:      cfg.Enabled,
		ServiceName:  cfg.ServiceName,
		BatchTimeout: cfg.BatchTimeout,
		LogWriter:    logFile,
		Endpoint:     cfg.Endpoint,
		Insecure:     cfg.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing otel provider: %w", err)
	}
	return p, nil
}

// setupLogging points the process logger at the console, the session log
// file, the optional GELF sink, and the optional OTel bridge.
func setupLogging(m *logging.SlogManager, logFile *os.File, provider *intotel.Provider) {
	sinks := []io.Writer{logFile}

	if gl := config.GetGraylogConfig(); gl.Enabled {
		sink, err := logging.NewGelfSink(gl.Address, appName)
		if err != nil {
			m.Logger().Warn("GELF sink unavailable", "address", gl.Address, "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	var lp *sdklog.LoggerProvider
	if provider != nil {
		lp = provider.LoggerProvider()
	}
	m.Setup(config.GetString("logLevel"), lp, sinks...)
}

func loadScene(cfg config.WorldConfig) (*scene.Scene, error) {
	if cfg.SceneFile == "" {
		return scene.Demo(), nil
	}
	sc, err := scene.Load(cfg.SceneFile)
	if err != nil {
		return nil, fmt.Errorf("loading scene %s: %w", cfg.SceneFile, err)
	}
	return sc, nil
}

// resolveAnchor prefers the scene's own anchor and falls back to the
// configured one for scenes that carry no georeferencing.
func resolveAnchor(sc *scene.Scene, cfg config.WorldConfig) (lat, lon float64) {
	if sc.Anchor.Lat != 0 || sc.Anchor.Lon != 0 {
		return sc.Anchor.Lat, sc.Anchor.Lon
	}
	return cfg.AnchorLat, cfg.AnchorLon
}

func buildLimits(cfg config.MotionConfig) motion.Limits {
	return motion.Limits{
		MinSpeed:          cfg.MinSpeed,
		MaxSpeed:          cfg.MaxSpeed,
		AccelUp:           cfg.AccelUp,
		AccelDown:         cfg.AccelDown,
		WaypointTolerance: cfg.WaypointTolerance,
		SpeedEpsilon:      cfg.SpeedEpsilon,
		RotateWhenStopped: cfg.RotateWhenStopped,
	}
}

// setupInflux connects the live telemetry export. Failure is never fatal:
// the bridge records locally regardless.
func setupInflux(zlog zerolog.Logger, logger *slog.Logger) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}

	mgr := influx.NewManager(cfg, zlog)
	if err := mgr.Connect(); err != nil {
		logger.Warn("InfluxDB export disabled", "error", err)
		return nil
	}
	return mgr
}

// uploadRun ships the exported run artifact to the orchestrator when the
// API is configured and the backend produced a file.
func uploadRun(backend storage.Backend, logger *slog.Logger) {
	cfg := config.GetAPIConfig()
	if !cfg.Enabled {
		return
	}

	up, ok := backend.(storage.Uploadable)
	if !ok {
		logger.Debug("storage backend produces no uploadable artifact")
		return
	}
	path := up.GetExportedFilePath()
	if path == "" {
		logger.Warn("no run artifact to upload")
		return
	}

	client := api.New(cfg.ServerURL, cfg.APIKey)
	if err := client.Healthcheck(); err != nil {
		logger.Warn("orchestrator unreachable, keeping run artifact local",
			"path", path, "error", err)
		return
	}
	if err := client.Upload(path, up.GetExportMetadata()); err != nil {
		logger.Error("run upload failed", "path", path, "error", err)
		return
	}
	logger.Info("Run artifact uploaded", "path", path, "server", cfg.ServerURL)
}
