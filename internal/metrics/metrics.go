// Package metrics exposes a runtime.Stats snapshot as Prometheus
// collectors, following the counters/histogram-per-subsystem convention
// used elsewhere in the ecosystem for repository and worker metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mailshield/recache/runtime"
)

// Collectors holds every metric recache registers, all under the
// "recache" namespace and the "scan" subsystem.
type Collectors struct {
	RegexpsTotal      prometheus.Gauge
	RegexpsChecked    prometheus.Counter
	RegexpsMatched    prometheus.Counter
	RegexpsFastCached prometheus.Counter
	BytesScanned      prometheus.Counter
	BytesScannedPCRE  prometheus.Counter

	ScanDuration prometheus.Histogram
}

// New registers recache's collectors against reg and returns the handle.
// Callers that want the global default registry can pass
// prometheus.DefaultRegisterer; tests should pass a fresh
// prometheus.NewRegistry() to avoid cross-test registration conflicts.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		RegexpsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "regexps_total",
			Help:      "Number of expressions registered in the cache.",
		}),
		RegexpsChecked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "regexps_checked_total",
			Help:      "Total expressions evaluated at least once across all scans.",
		}),
		RegexpsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "regexps_matched_total",
			Help:      "Total expressions whose result transitioned to at least one match.",
		}),
		RegexpsFastCached: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "regexps_fast_cached_total",
			Help:      "Total re-queries served from the checked bitmap without rescanning.",
		}),
		BytesScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "bytes_scanned_total",
			Help:      "Total bytes handed to any matcher, prefilter or accurate.",
		}),
		BytesScannedPCRE: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "bytes_scanned_pcre_total",
			Help:      "Total bytes handed specifically to the accurate matcher.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recache",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one message scan across all queried expressions.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
}

// Observe copies one scan's final Stats snapshot into the registered
// collectors. The Runtime's counters reset per message, so Observe adds
// the snapshot's deltas rather than setting gauges, except RegexpsTotal
// which reflects the cache's current size.
func (c *Collectors) Observe(stats runtime.Stats) {
	c.RegexpsTotal.Set(float64(stats.RegexpsTotal))
	c.RegexpsChecked.Add(float64(stats.RegexpsChecked))
	c.RegexpsMatched.Add(float64(stats.RegexpsMatched))
	c.RegexpsFastCached.Add(float64(stats.RegexpsFastCached))
	c.BytesScanned.Add(float64(stats.BytesScanned))
	c.BytesScannedPCRE.Add(float64(stats.BytesScannedPCRE))
}

// ObserveDuration records one scan's wall-clock duration in seconds.
func (c *Collectors) ObserveDuration(seconds float64) {
	c.ScanDuration.Observe(seconds)
}
