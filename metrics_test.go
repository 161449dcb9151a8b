package goMPin

import (
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goMPin/mpintest"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAuthSuccess)

	if got := m.Value(MetricAuthSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricAuthSuccess)
	m.Observe(MetricAuthLatency, time.Second)
	if m.Value(MetricAuthSuccess) != 0 || m.Enabled() {
		t.Fatalf("nil metrics must read as zero")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricTimePermitCacheHit)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricTimePermitCacheHit); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		20 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		5 * time.Second,
		30 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricAuthLatency, d)
	}
	m.Observe(MetricAuthSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAuthLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Histograms[MetricAuthSuccess]; ok {
		t.Fatalf("counters have no histogram")
	}
	if _, ok := snap.Counters[MetricAuthLatency]; ok {
		t.Fatalf("latency is not a counter")
	}
}

func TestMetricsLatencyRequiresOptIn(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricAuthLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricAuthLatency]; ok {
		t.Fatalf("histogram reported without opt-in")
	}
}

func TestEngine_LatencyObserved(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions(), func(b *Builder) {
		b.WithLatencyHistograms(true)
	})
	u := env.register(t, "yara@example.com", "1234")
	if _, err := env.authenticate(t, u, "1234"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := env.authenticate(t, u, "9999"); err == nil {
		t.Fatalf("expected wrong PIN to fail")
	}

	snap := env.engine.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricAuthLatency] {
		total += v
	}
	if total != 2 {
		t.Fatalf("expected two latency samples, got %d", total)
	}
	if snap.Counters[MetricAuthSuccess] != 1 || snap.Counters[MetricAuthFailure] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
}
