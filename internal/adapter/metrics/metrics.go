package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "log_pipeline"

// PipelineMetrics holds all Prometheus metrics for the publisher, workers and demo API.
type PipelineMetrics struct {
	HTTPRequestsTotal *prometheus.CounterVec
	PublishedTotal    *prometheus.CounterVec
	PublishDuration   prometheus.Histogram
	WALActive         prometheus.Gauge
	ConsumedTotal     *prometheus.CounterVec
	DeadLetteredTotal *prometheus.CounterVec
	CommitErrorsTotal *prometheus.CounterVec
	HandleDuration    *prometheus.HistogramVec
}

// NewPipelineMetrics creates the metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "events_total",
			Help:      "Total number of publish attempts by result.",
		}, []string{"result"}), // result: acked, buffered, dropped, error_encoding, error_broker
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "publish_duration_seconds",
			Help:      "Time spent waiting for broker acknowledgment.",
			Buckets:   prometheus.DefBuckets,
		}),
		WALActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the Write-Ahead Log is currently active (1 for active, 0 for inactive).",
		}),
		ConsumedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Total number of consumed messages by group and result.",
		}, []string{"group", "result"}), // result: handled, decode_error, sink_error, redelivered
		DeadLetteredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "dead_lettered_total",
			Help:      "Total number of messages moved to the dead-letter destination.",
		}, []string{"group"}),
		CommitErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "commit_errors_total",
			Help:      "Total number of failed offset commits.",
		}, []string{"group"}),
		HandleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "handle_duration_seconds",
			Help:      "Time spent inside Sink.Handle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
	}
}
