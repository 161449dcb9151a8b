package prometheus

import (
	"net/http"
	"strings"

	goMPin "github.com/MrEthical07/goMPin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

type metricsSource interface {
	MetricsSnapshot() goMPin.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter serves engine metrics from a private registry holding
// a single Collector.
type PrometheusExporter struct {
	source   metricsSource
	registry *promclient.Registry
}

// NewPrometheusExporter reads from engine on every render.
func NewPrometheusExporter(engine *goMPin.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	reg := promclient.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return &PrometheusExporter{source: source, registry: reg}
}

// Handler serves the registry with content negotiation.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Render returns the current metrics in text format. It is empty while
// metrics are disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}
	snapshot := p.source.MetricsSnapshot()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && p.source.AuditDropped() == 0 {
		return ""
	}

	families, err := p.registry.Gather()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return ""
		}
	}
	return b.String()
}
