// Package observability configures the process-wide logging pipeline.
//
// Logs always go to stderr as text or JSON. When an OpenTelemetry log
// exporter is configured through the standard OTEL_* environment variables,
// records are additionally bridged into an OTLP (or stdout, for debugging)
// exporter with a minimum-severity filter matching the configured level.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/drivelane/reyrey-auth"

// loggerProvider is retained for Shutdown. Nil when no exporter is active.
var loggerProvider *sdklog.LoggerProvider

// Instrument installs the default slog logger with the given level and
// format ("text" or "json"), bridging into OpenTelemetry when configured.
func Instrument(level slog.Level, format string) error {
	handlerOpts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch format {
	case "json":
		console = slog.NewJSONHandler(os.Stderr, handlerOpts)
	case "", "text":
		console = slog.NewTextHandler(os.Stderr, handlerOpts)
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}

	handler := console

	exporter, err := newExporterFromEnv()
	if err != nil {
		return fmt.Errorf("configuring log exporter: %w", err)
	}
	if exporter != nil {
		processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
		loggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

		otelHandler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(loggerProvider))
		handler = newTeeHandler(console, otelHandler)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Shutdown flushes and stops the exporter pipeline, if one was configured.
func Shutdown(ctx context.Context) error {
	if loggerProvider == nil {
		return nil
	}
	return loggerProvider.Shutdown(ctx)
}

// newExporterFromEnv builds a log exporter from the standard OTEL_* knobs.
// Returns nil when log export is not enabled.
func newExporterFromEnv() (sdklog.Exporter, error) {
	switch os.Getenv("OTEL_LOGS_EXPORTER") {
	case "otlp":
		if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "grpc" {
			return otlploggrpc.New(context.Background())
		}
		return otlploghttp.New(context.Background())
	case "console":
		return stdoutlog.New()
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported OTEL_LOGS_EXPORTER value %q", os.Getenv("OTEL_LOGS_EXPORTER"))
	}
}

// severityFor maps an slog level onto the minimum OTel severity exported.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// teeHandler fans records out to both the console and the OTel bridge.
type teeHandler struct {
	handlers []slog.Handler
}

func newTeeHandler(handlers ...slog.Handler) *teeHandler {
	return &teeHandler{handlers: handlers}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
