// Package metrics exposes Prometheus collectors for the queue subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification delivery outcomes.
const (
	DeliveryOK        = "ok"
	DeliveryGone      = "gone"
	DeliveryTransient = "transient"
	DeliverySkipped   = "skipped"
)

// Recorder is the narrow recording interface consumed by the queue
// components. The Prometheus implementation is used in production; tests
// use Noop.
type Recorder interface {
	// RecordSubmission counts a submission attempt by outcome
	// (accepted, rejected, error).
	RecordSubmission(outcome string)

	// RecordWorkerEvent counts an ingested worker event by kind and outcome
	// (applied, duplicate, dropped, error).
	RecordWorkerEvent(kind, outcome string)

	// RecordNotification counts a push delivery attempt by outcome.
	RecordNotification(outcome string)

	// SetQueueDepth records the current size of the queued set.
	SetQueueDepth(depth int)
}

// PrometheusRecorder implements Recorder with promauto collectors
// registered against the default registry.
type PrometheusRecorder struct {
	submissions   *prometheus.CounterVec
	workerEvents  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewPrometheusRecorder creates and registers the queue collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		submissions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_queue_submissions_total",
				Help: "Total number of generation queue submissions",
			},
			[]string{"outcome"},
		),
		workerEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_worker_events_total",
				Help: "Total number of worker lifecycle events ingested",
			},
			[]string{"kind", "outcome"},
		),
		notifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_notifications_total",
				Help: "Total number of push notification delivery attempts",
			},
			[]string{"outcome"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "generation_queue_depth",
				Help: "Current number of queued generation entries",
			},
		),
	}
}

var _ Recorder = (*PrometheusRecorder)(nil)

func (r *PrometheusRecorder) RecordSubmission(outcome string) {
	r.submissions.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordWorkerEvent(kind, outcome string) {
	r.workerEvents.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRecorder) RecordNotification(outcome string) {
	r.notifications.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

// noopRecorder discards all observations.
type noopRecorder struct{}

func (noopRecorder) RecordSubmission(string)      {}
func (noopRecorder) RecordWorkerEvent(_, _ string) {}
func (noopRecorder) RecordNotification(string)    {}
func (noopRecorder) SetQueueDepth(int)            {}

// Noop returns a Recorder that discards all observations.
func Noop() Recorder {
	return noopRecorder{}
}
