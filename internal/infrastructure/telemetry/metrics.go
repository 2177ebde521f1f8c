package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const defaultExportInterval = time.Minute

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	ServiceVersion    string
	Insecure          bool
}

// MeterProvider owns the OTLP metrics pipeline. Disabled, it hands out
// meters from the global (no-op) provider.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider creates the meter provider and installs it globally
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	res, err := newServiceResource(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
		zap.String("service_name", cfg.ServiceName),
	)
	return mp, nil
}

// Shutdown flushes pending metrics and stops the exporter
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return shutdownWithTimeout(ctx, mp.logger, "metrics", mp.provider.Shutdown)
}

// Meter returns a named meter
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// IsEnabled reports whether metrics are exported
func (mp *MeterProvider) IsEnabled() bool {
	return mp.provider != nil
}

// Instrument describes one metric. The same description registers as a
// counter, histogram or gauge.
type Instrument struct {
	Name        string
	Description string
	Unit        string
	// Buckets are explicit histogram boundaries; other kinds ignore them
	Buckets []float64
}

// Counter registers i as a monotonic int64 counter.
func (i Instrument) Counter(meter metric.Meter) (*Counter, error) {
	c, err := meter.Int64Counter(i.Name, metric.WithDescription(i.Description), metric.WithUnit(i.Unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", i.Name, err)
	}
	return &Counter{c}, nil
}

// Histogram registers i as a float64 histogram.
func (i Instrument) Histogram(meter metric.Meter) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{metric.WithDescription(i.Description), metric.WithUnit(i.Unit)}
	if len(i.Buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(i.Buckets...))
	}
	h, err := meter.Float64Histogram(i.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", i.Name, err)
	}
	return &Histogram{h}, nil
}

// Gauge registers i as an int64 gauge.
func (i Instrument) Gauge(meter metric.Meter) (*Gauge, error) {
	g, err := meter.Int64Gauge(i.Name, metric.WithDescription(i.Description), metric.WithUnit(i.Unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", i.Name, err)
	}
	return &Gauge{g}, nil
}

// Counter counts events.
type Counter struct {
	c metric.Int64Counter
}

// Add increments the counter by n.
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Inc increments the counter by one.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram records a distribution.
type Histogram struct {
	h metric.Float64Histogram
}

// Record adds one observation.
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	h.h.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordDuration adds d in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}

// Gauge holds the last recorded value per attribute set.
type Gauge struct {
	g metric.Int64Gauge
}

// Record sets the current value.
func (g *Gauge) Record(ctx context.Context, v int64, attrs ...attribute.KeyValue) {
	g.g.Record(ctx, v, metric.WithAttributes(attrs...))
}

// Attribute keys shared by the database and pipeline metrics.
var (
	AttrDBOperation = attribute.Key("db.operation")
	AttrDBTable     = attribute.Key("db.table")
	AttrDBState     = attribute.Key("db.pool.state")

	AttrPlatform = attribute.Key("platform")
	AttrDomain   = attribute.Key("data_domain")
	AttrOutcome  = attribute.Key("outcome")
	AttrValid    = attribute.Key("valid")
	AttrView     = attribute.Key("view")
	AttrStatus   = attribute.Key("status")
)

// Histogram boundaries.
var (
	// DBDurationBuckets in seconds
	DBDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	// RefreshDurationBuckets in seconds; a full refresh of a large view takes minutes
	RefreshDurationBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900}
	// MappingScoreBuckets on the 0-100 score scale
	MappingScoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
)
