// Command orchestrator is the driving side of the simulation link. It
// serves the WebSocket endpoint bridges dial into, runs the endless route
// scenario against whichever bridge is connected, records positions and
// route events to CSV, and accepts run artifact uploads over HTTP.
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

	"github.com/spf13/pflag"

	"simbridge/internal/config"
	"simbridge/internal/logging"
	"simbridge/internal/orchestrator"
)

const appName = "orchestrator"

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
	startedAt := time.Now()

	logManager := logging.NewSlogManager()

	if err := config.Load(configDir); err != nil {
		logManager.Logger().Warn("Failed to load config, using defaults", "error", err)
	}

	logFile, err := openLogFile(startedAt)
	if err != nil {
		return err
	}
	defer logFile.Close()

	setupLogging(logManager, logFile)
	logger := logManager.Logger()
	logger.Info("Starting up", "version", version, "build_date", buildDate)

	cfg := config.GetOrchestratorConfig()

	recorder, err := orchestrator.NewRecorder(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening recorder: %w", err)
	}

	server := orchestrator.NewServer(cfg, logger)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One scenario across all bridge connections, so the target rotation
	// and the leg counter survive reconnects.
	scenario := orchestrator.NewScenario(cfg, recorder, logger)

	logger.Info("Waiting for a bridge", "listen_addr", cfg.ListenAddr)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverDone:
			stop()
			shutdown(server, recorder, logManager, logger)
			return fmt.Errorf("server failed: %w", err)
		case conn, ok := <-server.Bridges().Receive():
			if !ok {
				break loop
			}
			bus := orchestrator.NewBus(conn, cfg.QueryTimeout, cfg.AckTimeout, logger)
			scenario.Run(ctx, bus)
			bus.Close()
		}
	}

	logger.Info("Shutting down")
	shutdown(server, recorder, logManager, logger)
	logger.Info("Shutdown complete", "elapsed", time.Since(startedAt).Round(time.Second).String())
	return nil
}

func shutdown(server *orchestrator.Server, recorder *orchestrator.Recorder, logManager *logging.SlogManager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	if err := recorder.Close(); err != nil {
		logger.Warn("closing recorder failed", "error", err)
	}
	if err := logManager.Flush(ctx); err != nil {
		logger.Warn("log flush failed", "error", err)
	}
}

func openLogFile(startedAt time.Time) (*os.File, error) {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	path := logging.LogFilePath(logsDir, appName, startedAt)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// setupLogging points the process logger at the session log file and the
// optional GELF sink. The orchestrator is a driver tool, so it skips the
// OTel pipeline the bridge carries.
func setupLogging(m *logging.SlogManager, logFile *os.File) {
	sinks := []io.Writer{logFile}

	if gl := config.GetGraylogConfig(); gl.Enabled {
		sink, err := logging.NewGelfSink(gl.Address, appName)
		if err != nil {
			m.Logger().Warn("GELF sink unavailable", "address", gl.Address, "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	m.Setup(config.GetString("logLevel"), nil, sinks...)
}
