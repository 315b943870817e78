package otel

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/identity"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot identity.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() identity.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := identity.MetricsSnapshot{
		Counters:   make(map[identity.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[identity.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("identity-test")

	src := &fakeSource{
		snapshot: identity.MetricsSnapshot{
			Counters: map[identity.MetricID]uint64{
				identity.MetricLoginSuccess: 3,
			},
			Histograms: map[identity.MetricID][]uint64{
				identity.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "identity_login_success_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
				t.Fatalf("unexpected login_success data: %#v", m.Data)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("identity_login_success_total not collected")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("identity-test")

	if _, err := New(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("identity-test")

	src := &fakeSource{
		snapshot: identity.MetricsSnapshot{
			Counters: map[identity.MetricID]uint64{
				identity.MetricLoginSuccess: 1,
			},
			Histograms: map[identity.MetricID][]uint64{
				identity.MetricLoginLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[identity.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExporterReportsLatencyBucketsByBound(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{
		snapshot: identity.MetricsSnapshot{
			Histograms: map[identity.MetricID][]uint64{
				identity.MetricLoginLatency: {2, 0, 1, 0, 0, 0, 0, 4},
			},
		},
	}
	exp, err := New(provider.Meter("identity-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	byBound := map[string]int64{}
	var count int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			switch m.Name {
			case "identity_login_latency_seconds_bucket":
				for _, dp := range sum.DataPoints {
					le, _ := dp.Attributes.Value(attribute.Key("le"))
					byBound[le.AsString()] = dp.Value
				}
			case "identity_login_latency_seconds_count":
				count = sum.DataPoints[0].Value
			}
		}
	}

	if len(byBound) != 8 {
		t.Fatalf("expected 8 bucket series, got %v", byBound)
	}
	if byBound["0.005"] != 2 || byBound["0.025"] != 3 || byBound["0.5"] != 3 || byBound["+Inf"] != 7 {
		t.Fatalf("unexpected cumulative buckets: %v", byBound)
	}
	if count != 7 {
		t.Fatalf("expected count 7, got %d", count)
	}
}

func TestPipelineLogsFinalCollectionOnClose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := &fakeSource{
		snapshot: identity.MetricsSnapshot{
			Counters: map[identity.MetricID]uint64{
				identity.MetricLoginSuccess: 3,
			},
		},
		dropped: 2,
	}

	p, err := NewPipeline(src, logger, time.Hour)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "msg=metrics") {
		t.Fatalf("expected a metrics record, got %q", out)
	}
	if !strings.Contains(out, "identity_login_success_total=3") || !strings.Contains(out, "identity_audit_dropped_total=2") {
		t.Fatalf("missing counters in %q", out)
	}
	if strings.Contains(out, "identity_login_failure_total") {
		t.Fatalf("zero series must be left out: %q", out)
	}
}

func TestPipelineRejectsNilSource(t *testing.T) {
	if _, err := NewPipeline(nil, slog.New(slog.DiscardHandler), 0); err == nil {
		t.Fatal("expected error for nil source")
	}
}
