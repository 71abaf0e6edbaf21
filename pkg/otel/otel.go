// Package otel installs the global OpenTelemetry tracer provider.
package otel

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls OTel initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// UseStdout enables stdout trace exporter (suitable for local dev/tests).
	UseStdout bool
	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
	// RunID identifies one bookstore invocation on every exported span.
	RunID string
	// Driver is the persistence driver in use (ent, gorm or memory).
	Driver string
}

// runAttributes returns the per-invocation resource attributes that are set.
func (c Config) runAttributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if c.RunID != "" {
		kv = append(kv, attribute.String("bookstore.run.id", c.RunID))
	}
	if c.Driver != "" {
		kv = append(kv, attribute.String("bookstore.db.driver", c.Driver))
	}
	return kv
}

// Init configures a global tracer provider and returns a shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bookstore"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = os.Getenv("BOOKSTORE_VERSION")
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithProcess(),
		sdkresource.WithOS(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("library.language", "go"),
		),
		sdkresource.WithAttributes(cfg.runAttributes()...),
	)
	// Detectors that cannot read the host (e.g. in containers) still yield a usable resource.
	if err != nil && !errors.Is(err, sdkresource.ErrPartialResource) && !errors.Is(err, sdkresource.ErrSchemaURLConflict) {
		return nil, err
	}

	var tp *sdktrace.TracerProvider
	if cfg.UseStdout {
		expOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Writer != nil {
			expOpts = append(expOpts, stdouttrace.WithWriter(cfg.Writer))
		}
		exp, err := stdouttrace.New(expOpts...)
		if err != nil {
			return nil, err
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp,
				sdktrace.WithMaxExportBatchSize(512),
				sdktrace.WithBatchTimeout(200*time.Millisecond),
			),
			sdktrace.WithResource(res),
		)
	} else {
		// No-op exporter for now; can be extended to OTLP.
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	}

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
