// Package telemetry owns the OpenTelemetry meter and tracer used by the
// synchronizer. Counters are read back through a manual reader so the API can
// report them without an external collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/dgnsrekt/titlesync"

const (
	MetricScans            = "titlesync.scans"
	MetricMutations        = "titlesync.mutations"
	MetricMutationFailures = "titlesync.mutation_failures"
	MetricMarkers          = "titlesync.marker_changes"
)

// Config controls the exporters.
type Config struct {
	ServiceName  string
	EnableTraces bool
	// TraceWriter receives pretty-printed spans when traces are enabled.
	TraceWriter io.Writer
}

// Provider holds the meter/tracer providers and the synchronizer counters.
type Provider struct {
	reader         *sdkmetric.ManualReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	scans     metric.Int64Counter
	mutations metric.Int64Counter
	failures  metric.Int64Counter
	markers   metric.Int64Counter

	shutdownOnce sync.Once
}

// Setup builds the providers and registers the counters.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "titlesync"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	p := &Provider{reader: sdkmetric.NewManualReader()}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(p.reader),
		sdkmetric.WithResource(res),
	)
	meter := p.meterProvider.Meter(instrumentationName)

	if p.scans, err = meter.Int64Counter(MetricScans, metric.WithDescription("Window scans run by the synchronizer")); err != nil {
		return nil, err
	}
	if p.mutations, err = meter.Int64Counter(MetricMutations, metric.WithDescription("Title mutations requested")); err != nil {
		return nil, err
	}
	if p.failures, err = meter.Int64Counter(MetricMutationFailures, metric.WithDescription("Title mutations the host rejected")); err != nil {
		return nil, err
	}
	if p.markers, err = meter.Int64Counter(MetricMarkers, metric.WithDescription("Marker tabs created or removed")); err != nil {
		return nil, err
	}

	p.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	if cfg.EnableTraces {
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.TraceWriter != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.TraceWriter))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init stdout trace exporter: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(64)),
			sdktrace.WithResource(res),
		)
		p.tracer = p.tracerProvider.Tracer(instrumentationName)
	}
	return p, nil
}

// StartScan opens a span around one synchronizer scan.
func (p *Provider) StartScan(ctx context.Context, scope string) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "titlesync.scan", trace.WithAttributes(attribute.String("scope", scope)))
}

// RecordScan counts a scan of the given scope (window, tab, all).
func (p *Provider) RecordScan(ctx context.Context, scope string) {
	if p == nil {
		return
	}
	p.scans.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordMutation counts a requested title mutation and whether it failed.
func (p *Provider) RecordMutation(ctx context.Context, err error) {
	if p == nil {
		return
	}
	p.mutations.Add(ctx, 1)
	if err != nil {
		p.failures.Add(ctx, 1)
	}
}

// RecordMarker counts a marker change (set, clear).
func (p *Provider) RecordMarker(ctx context.Context, action string) {
	if p == nil {
		return
	}
	p.markers.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// Snapshot collects every counter, summed across attributes.
func (p *Provider) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{
		MetricScans:            0,
		MetricMutations:        0,
		MetricMutationFailures: 0,
		MetricMarkers:          0,
	}
	if p == nil {
		return out, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[m.Name] = total
		}
	}
	return out, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
			errs = append(errs, shutdownErr)
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
