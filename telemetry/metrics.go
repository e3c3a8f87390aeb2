package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task results recorded in organizer_tasks_total.
const (
	ResultSkipped   = "skipped"
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Metrics holds the batch counters on a private registry so several
// organizers (and tests) never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	blobs        prometheus.Counter
	bytes        prometheus.Counter
	taskDuration prometheus.Histogram
	lastRun      prometheus.Gauge
}

// NewMetrics creates and registers the organizer metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_tasks_total",
			Help: "Model versions handled, by result.",
		}, []string{"result"}),
		blobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "organizer_blobs_copied_total",
			Help: "Blob files copied and verified.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "organizer_bytes_copied_total",
			Help: "Blob bytes copied.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "organizer_task_duration_seconds",
			Help:    "Time to copy and verify one model version.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "organizer_last_run_timestamp_seconds",
			Help: "Unix time the last batch finished.",
		}),
	}
	m.registry.MustRegister(m.tasks, m.blobs, m.bytes, m.taskDuration, m.lastRun)
	return m
}

// ObserveTask records one task outcome.
func (m *Metrics) ObserveTask(result string, blobs int, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
	if result == ResultSucceeded {
		m.blobs.Add(float64(blobs))
		m.bytes.Add(float64(bytes))
		m.taskDuration.Observe(elapsed.Seconds())
	}
}

// ObserveBatchEnd stamps the batch completion time.
func (m *Metrics) ObserveBatchEnd(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the metrics for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
