// Package observability configures the process-wide slog logger, either as a
// plain stderr handler or bridged into an OpenTelemetry log pipeline.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName identifies log records emitted through the OpenTelemetry bridge.
const ScopeName = "github.com/florianilch/glimpse"

const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Options selects the logging pipeline.
type Options struct {
	Level    slog.Level
	Format   string
	Exporter string

	// Writer receives output of the plain and stdout pipelines. Defaults to os.Stderr.
	Writer io.Writer
}

// Instrument installs the default slog logger and returns a function that
// flushes and stops the pipeline.
func Instrument(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	if opts.Exporter == "" || opts.Exporter == ExporterNone {
		handler, err := newHandler(opts)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", opts.Exporter, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), levelSeverity(opts.Level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		// Exporter failures must not loop back into the pipeline.
		_, _ = fmt.Fprintf(opts.Writer, "opentelemetry: %v\n", err)
	}))

	slog.SetDefault(slog.New(otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		var errs []error
		if err := provider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing logs: %w", err))
		}
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down logger provider: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func newHandler(opts Options) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	switch opts.Format {
	case "", FormatText:
		return slog.NewTextHandler(opts.Writer, handlerOpts), nil
	case FormatJSON:
		return slog.NewJSONHandler(opts.Writer, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}
}

func newExporter(ctx context.Context, opts Options) (sdklog.Exporter, error) {
	switch opts.Exporter {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
	case ExporterOTLPHTTP:
		// Endpoint and headers come from OTEL_EXPORTER_OTLP_* variables.
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", opts.Exporter)
	}
}

// levelSeverity filters OpenTelemetry records by slog level.
type levelSeverity slog.Level

// Severity maps the slog level the same way the otelslog bridge does.
func (l levelSeverity) Severity() otellog.Severity {
	return otellog.Severity(int(l) + 9)
}
