package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mailshield/recache/runtime"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	if c.RegexpsTotal == nil || c.RegexpsChecked == nil || c.RegexpsMatched == nil ||
		c.RegexpsFastCached == nil || c.BytesScanned == nil || c.BytesScannedPCRE == nil ||
		c.ScanDuration == nil {
		t.Fatalf("expected every collector to be non-nil: %+v", c)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 7 {
		t.Fatalf("expected 7 registered metric families, got %d", len(families))
	}
}

func TestObserveAddsCounterDeltas(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Observe(runtime.Stats{
		RegexpsTotal:      10,
		RegexpsChecked:    3,
		RegexpsMatched:    1,
		RegexpsFastCached: 2,
		BytesScanned:      100,
		BytesScannedPCRE:  40,
	})
	c.Observe(runtime.Stats{
		RegexpsTotal:      10,
		RegexpsChecked:    1,
		RegexpsMatched:    0,
		RegexpsFastCached: 0,
		BytesScanned:      50,
		BytesScannedPCRE:  10,
	})

	if got := counterValue(t, c.RegexpsChecked); got != 4 {
		t.Fatalf("expected RegexpsChecked=4, got %v", got)
	}
	if got := counterValue(t, c.BytesScanned); got != 150 {
		t.Fatalf("expected BytesScanned=150, got %v", got)
	}
	if got := gaugeValue(t, c.RegexpsTotal); got != 10 {
		t.Fatalf("expected RegexpsTotal=10, got %v", got)
	}
}

func TestObserveDurationRecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveDuration(0.002)

	m := &dto.Metric{}
	if err := c.ScanDuration.(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected sample count 1, got %d", m.GetHistogram().GetSampleCount())
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}
