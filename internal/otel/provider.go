// Package otel owns the OpenTelemetry log pipeline. Logs always land in the
// session log file; an OTLP endpoint is an optional second destination. The
// process keeps running when the collector is down, so the pipeline is
// batched and never blocks callers.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the log destinations. At least one of LogWriter and
// Endpoint must be set when Enabled is true.
type Config struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	LogWriter    io.Writer // session log file
	Endpoint     string    // OTLP-HTTP collector, optional
	Insecure     bool      // plain HTTP to the collector
}

// Provider holds the configured log provider. A disabled provider is valid
// and returns nil from LoggerProvider, which downstream consumers treat as
// "no OTel".
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New builds the log pipeline described by cfg. Disabled configs produce a
// working no-op provider so callers never branch on the flag themselves.
func New(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()

	processors, err := buildProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(processors) == 0 {
		return nil, fmt.Errorf("OTel enabled but no log writer or endpoint configured")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, proc := range processors {
		opts = append(opts, sdklog.WithProcessor(proc))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)

	return p, nil
}

// buildProcessors assembles one batch processor per configured destination.
func buildProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	var processors []sdklog.Processor

	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(
			stdoutlog.WithWriter(cfg.LogWriter),
			stdoutlog.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		processors = append(processors, batch(exp, cfg.BatchTimeout))
	}

	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		processors = append(processors, batch(exp, cfg.BatchTimeout))
	}

	return processors, nil
}

func batch(exp sdklog.Exporter, timeout time.Duration) sdklog.Processor {
	return sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(timeout))
}

// LoggerProvider returns the log provider for the otelslog bridge, or nil
// when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a no-op meter. The link and dispatcher counters register
// against the global meter, which stays no-op unless a metrics backend is
// installed; logs are the primary export.
func (p *Provider) Meter(name string) metric.Meter {
	return noop.Meter{}
}

// Flush forces out any batched logs. Called before run upload so the
// artifact and the log file agree on how the run ended.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the pipeline. Call once on process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

// Enabled reports whether the pipeline was configured on.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
