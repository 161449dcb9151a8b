package prometheus

import (
	"github.com/MrEthical07/goMPin/metrics/export/internaldefs"
	promclient "github.com/prometheus/client_golang/prometheus"
)

// Collector adapts engine metrics to a client_golang registry. Values are
// read from the engine on every scrape.
type Collector struct {
	source     metricsSource
	counters   []*promclient.Desc
	histograms []*promclient.Desc
	dropped    *promclient.Desc
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector returns a collector over source, usually a *goMPin.Engine.
func NewCollector(source metricsSource) *Collector {
	c := &Collector{source: source}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, promclient.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, promclient.NewDesc(def.Name, def.Help, nil, nil))
	}
	c.dropped = promclient.NewDesc(internaldefs.AuditDroppedName, "Audit events dropped on a full buffer.", nil, nil)
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		v, ok := snapshot.Counters[def.ID]
		if !ok {
			continue
		}
		ch <- promclient.MustNewConstMetric(c.counters[i], promclient.CounterValue, float64(v))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for j, le := range internaldefs.HistogramBoundValues {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		ch <- promclient.MustNewConstHistogram(c.histograms[i], count, 0, buckets)
	}

	ch <- promclient.MustNewConstMetric(c.dropped, promclient.CounterValue, float64(c.source.AuditDropped()))
}
