package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// stdout is swapped out by tests to inspect console output.
var stdout io.Writer = os.Stdout

// SlogManager owns the process-wide structured logger. Records fan out to
// the console, any number of extra sinks (log file, GELF), and an OTel
// bridge when a log provider is configured.
type SlogManager struct {
	logger *slog.Logger

	// Context, when set, is consulted on every record so the handler can
	// stamp dynamic attributes such as the current simulation time.
	Context ContextProvider

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. Every non-nil sink receives the
// same records as the console; nil sinks are skipped so callers can pass
// optional writers unconditionally. If provider is nil, OTel logging is
// disabled.
func (m *SlogManager) Setup(level string, provider *sdklog.LoggerProvider, sinks ...io.Writer) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handlers := []slog.Handler{slog.NewTextHandler(stdout, handlerOpts)}

	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		handlers = append(handlers, slog.NewTextHandler(sink, handlerOpts))
	}

	// OTel handler (if provider is available)
	if provider != nil {
		otelHandler := otelslog.NewHandler("simbridge", otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	root := NewContextHandler(NewMultiHandler(handlers...), func() []slog.Attr {
		if m.Context == nil {
			return nil
		}
		return m.Context()
	})

	m.logger = slog.New(root)
	m.logger.Info("Logging initialized", "level", level, "handlers", len(handlers))
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
