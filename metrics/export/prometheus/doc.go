// Package prometheus exposes engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector for callers that already run
// a client_golang registry. [PrometheusExporter] wraps one in a private
// registry, renders it as text and can be mounted as an [http.Handler]. Counter names are gompin_*_total; the single histogram is
// gompin_auth_latency_seconds.
//
// Neither type registers anything globally or mutates the engine.
package prometheus
