// Package prometheus provides a Prometheus collector for goSession metrics.
//
// [NewPrometheusExporter] wraps a [goSession.Manager] in a prometheus.Collector that turns
// each MetricsSnapshot into const metrics at scrape time. Counter names are prefixed
// gosession_*_total; the single histogram is gosession_lookup_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register the exporter
//     or mount Handler, which uses a private registry.
//   - Mutate manager state.
package prometheus
