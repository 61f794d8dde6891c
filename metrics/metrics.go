// Package metrics exposes prometheus collectors for harvest runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Harvest collects per-source counters for harvest runs.
type Harvest struct {
	Registry *prometheus.Registry

	records      *prometheus.CounterVec
	sourceErrors *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastRun      prometheus.Gauge
	lastTotal    prometheus.Gauge
}

// NewHarvest registers the harvest collectors on a fresh registry.
func NewHarvest() *Harvest {
	h := &Harvest{
		Registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpharvest",
			Name:      "records_total",
			Help:      "Candidates processed per source by outcome (accepted, rejected, duplicate).",
		}, []string{"source", "outcome"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpharvest",
			Name:      "source_errors_total",
			Help:      "Source failures by kind (unavailable, malformed).",
		}, []string{"source", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rfpharvest",
			Name:      "source_duration_seconds",
			Help:      "Time spent fetching one source.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"source"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfpharvest",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed harvest run.",
		}),
		lastTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfpharvest",
			Name:      "last_run_records",
			Help:      "Records in the last harvest batch.",
		}),
	}
	h.Registry.MustRegister(h.records, h.sourceErrors, h.duration, h.lastRun, h.lastTotal)
	return h
}

// Outcome labels for ObserveRecords.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)

func (h *Harvest) ObserveRecords(source, outcome string, n int) {
	if h == nil || n <= 0 {
		return
	}
	h.records.WithLabelValues(source, outcome).Add(float64(n))
}

func (h *Harvest) ObserveError(source, kind string) {
	if h == nil {
		return
	}
	h.sourceErrors.WithLabelValues(source, kind).Inc()
}

func (h *Harvest) ObserveDuration(source string, d time.Duration) {
	if h == nil {
		return
	}
	h.duration.WithLabelValues(source).Observe(d.Seconds())
}

func (h *Harvest) ObserveRun(at time.Time, total int) {
	if h == nil {
		return
	}
	h.lastRun.Set(float64(at.Unix()))
	h.lastTotal.Set(float64(total))
}
