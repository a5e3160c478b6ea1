// Package metrics exposes Prometheus collectors for allocations, the
// request queue and the backup mirror.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "barcodeseq"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Allocations   *prometheus.CounterVec
	Serials       *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	MirrorPushes  *prometheus.CounterVec
	MirrorDropped prometheus.Counter
}

// New registers the collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation requests by scope kind and result code.",
		}, []string{"kind", "code"}),
		Serials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serials_issued_total",
			Help:      "Serial numbers handed out to callers.",
		}, []string{"kind"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Time from admission to response.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind", "code"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting behind the active allocation.",
		}),
		MirrorPushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_pushes_total",
			Help:      "Backup mirror pushes by result.",
		}, []string{"result"}),
		MirrorDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_dropped_total",
			Help:      "Commits not mirrored because the buffer was full.",
		}),
	}
}

// ObserveAllocation records one finished request.
func (m *Metrics) ObserveAllocation(kind, code string, count int, took time.Duration) {
	m.Allocations.WithLabelValues(kind, code).Inc()
	m.Duration.WithLabelValues(kind, code).Observe(took.Seconds())
	if code == "OK" {
		m.Serials.WithLabelValues(kind).Add(float64(count))
	}
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// ObserveMirror records a push outcome.
func (m *Metrics) ObserveMirror(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MirrorPushes.WithLabelValues(result).Inc()
}

// MirrorDrop counts a dropped commit.
func (m *Metrics) MirrorDrop() {
	m.MirrorDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
