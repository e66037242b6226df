// Package prometheus implements the metrics.Recorder interface on top of
// prometheus/client_golang. One Recorder is created per server component
// and registered on the default registry, exposed via the admin API's
// /metrics endpoint.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scribefs"

// Recorder implements metrics.Recorder.
type Recorder struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	connAccepted    prometheus.Counter
	connClosed      prometheus.Counter
	connActive      prometheus.Gauge
	replFailures    prometheus.Counter
}

// NewRecorder creates and registers a Recorder for the given component
// ("nameserver" or "storage").
func NewRecorder(component string) *Recorder {
	labels := prometheus.Labels{"component": component}
	return &Recorder{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "requests_total",
			Help:        "Protocol requests processed, by operation and status.",
			ConstLabels: labels,
		}, []string{"op", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "request_duration_seconds",
			Help:        "Request processing latency, by operation.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"op"}),
		connAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_accepted_total",
			Help:        "TCP connections accepted.",
			ConstLabels: labels,
		}),
		connClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_closed_total",
			Help:        "TCP connections closed.",
			ConstLabels: labels,
		}),
		connActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections_active",
			Help:        "Currently active TCP connections.",
			ConstLabels: labels,
		}),
		replFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "replication_failures_total",
			Help:        "Replication fan-outs that could not be delivered.",
			ConstLabels: labels,
		}),
	}
}

func (r *Recorder) RecordRequest(op string, duration time.Duration, status string) {
	r.requests.WithLabelValues(op, status).Inc()
	r.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (r *Recorder) RecordConnectionAccepted() { r.connAccepted.Inc() }

func (r *Recorder) RecordConnectionClosed() { r.connClosed.Inc() }

func (r *Recorder) SetActiveConnections(count int32) {
	r.connActive.Set(float64(count))
}

func (r *Recorder) RecordReplicationFailure() { r.replFailures.Inc() }
