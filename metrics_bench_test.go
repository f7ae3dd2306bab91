package goSession

import (
	"context"
	"testing"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricSessionLoaded)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricSessionLoaded)
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricSessionLoaded)
		}
	})
}

func BenchmarkGetIfExistsParallel(b *testing.B) {
	m, err := New().Build()
	if err != nil {
		b.Fatalf("build failed: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	_, token, err := m.GetOrCreate(ctx, "")
	if err != nil {
		b.Fatalf("create failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok, err := m.GetIfExists(ctx, token); !ok || err != nil {
				b.Fatalf("lookup failed: ok=%v err=%v", ok, err)
			}
		}
	})
}
