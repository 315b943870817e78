package otel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ScopeName is the instrumentation scope the engine instruments are created in.
const ScopeName = "github.com/MrEthical07/identity"

// DefaultInterval is used when NewPipeline is given a non-positive interval.
const DefaultInterval = time.Minute

// Pipeline owns a MeterProvider with a periodic reader that pushes the engine
// counters to a LogExporter.
type Pipeline struct {
	provider *sdkmetric.MeterProvider
	exporter *Exporter
}

// NewPipeline registers source on a fresh MeterProvider that exports every
// interval through logger.
func NewPipeline(source Source, logger *slog.Logger, interval time.Duration) (*Pipeline, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(logger), sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	exporter, err := New(provider.Meter(ScopeName), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &Pipeline{provider: provider, exporter: exporter}, nil
}

// Close exports one final collection, then stops the provider and
// unregisters the instruments.
func (p *Pipeline) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.provider.Shutdown(ctx), p.exporter.Close())
}

// LogExporter is an sdkmetric.Exporter that writes every collection as one
// structured log record. Zero-valued series are left out.
type LogExporter struct {
	logger *slog.Logger
}

var _ sdkmetric.Exporter = (*LogExporter)(nil)

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (l *LogExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (l *LogExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (l *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	var attrs []slog.Attr
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			}
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "metrics", attrs...)
	return nil
}

func appendPoints(attrs []slog.Attr, name string, points []metricdata.DataPoint[int64]) []slog.Attr {
	for _, dp := range points {
		if dp.Value == 0 {
			continue
		}
		key := name
		if dp.Attributes.Len() > 0 {
			key += "{" + dp.Attributes.Encoded(attribute.DefaultEncoder()) + "}"
		}
		attrs = append(attrs, slog.Int64(key, dp.Value))
	}
	return attrs
}

func (l *LogExporter) ForceFlush(context.Context) error { return nil }

func (l *LogExporter) Shutdown(context.Context) error { return nil }
