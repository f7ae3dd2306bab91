package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	goSession "github.com/MrEthical07/goSession"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	if got := testutil.CollectAndCount(exp); got != 0 {
		t.Fatalf("expected no metrics for a disabled source, got %d", got)
	}
}

func TestCollectIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSessionCreated: 7,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricLookupLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP gosession_session_created_total Created sessions.
# TYPE gosession_session_created_total counter
gosession_session_created_total 7
# HELP gosession_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE gosession_audit_dropped_total counter
gosession_audit_dropped_total 2
# HELP gosession_lookup_latency_seconds Session lookup latency histogram.
# TYPE gosession_lookup_latency_seconds histogram
gosession_lookup_latency_seconds_bucket{le="0.005"} 1
gosession_lookup_latency_seconds_bucket{le="0.01"} 3
gosession_lookup_latency_seconds_bucket{le="0.025"} 6
gosession_lookup_latency_seconds_bucket{le="0.05"} 10
gosession_lookup_latency_seconds_bucket{le="0.1"} 15
gosession_lookup_latency_seconds_bucket{le="0.25"} 21
gosession_lookup_latency_seconds_bucket{le="0.5"} 28
gosession_lookup_latency_seconds_bucket{le="+Inf"} 36
gosession_lookup_latency_seconds_sum 0
gosession_lookup_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"gosession_session_created_total",
		"gosession_audit_dropped_total",
		"gosession_lookup_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestExporterRegistersWithRegistry(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{goSession.MetricSessionMiss: 1},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP gosession_session_miss_total Lookups of well-formed tokens without a live session.
# TYPE gosession_session_miss_total counter
gosession_session_miss_total 1
`), "gosession_session_miss_total"); err != nil {
		t.Fatalf("unexpected gathered output: %v", err)
	}
}

func TestHandlerServesManagerMetrics(t *testing.T) {
	m, err := goSession.New().WithMetricsEnabled(true).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, _, err := m.GetOrCreate(ctx, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewPrometheusExporter(m).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "gosession_session_created_total 1") {
		t.Fatalf("expected created counter in output, got:\n%s", rec.Body.String())
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSessionCreated:     1000,
				goSession.MetricSessionLoaded:      40000,
				goSession.MetricSessionMiss:        800,
				goSession.MetricSessionInvalidated: 20,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricLookupLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
