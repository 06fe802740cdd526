package prometheus

import (
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueMetrics is the Prometheus implementation of metrics.QueueMetrics.
type queueMetrics struct {
	messagesReceived *prometheus.CounterVec
	messagesDecoded  *prometheus.CounterVec
	bodySize         *prometheus.HistogramVec
	poisonMessages   *prometheus.CounterVec
	deadLetterErrors *prometheus.CounterVec
}

// NewQueueMetrics creates a new Prometheus-backed QueueMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewQueueMetrics() metrics.QueueMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopQueueMetrics()
	}
	return newQueueMetrics(metrics.GetRegistry())
}

func newQueueMetrics(reg prometheus.Registerer) *queueMetrics {
	return &queueMetrics{
		messagesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_queue_messages_received_total",
				Help: "Total number of raw messages taken from a queue source",
			},
			[]string{"source"},
		),
		messagesDecoded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_queue_messages_decoded_total",
				Help: "Total number of queued messages decoded and published",
			},
			[]string{"source"},
		),
		bodySize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "framingd_queue_message_size_bytes",
				Help: "Distribution of decoded queued message body sizes",
				Buckets: []float64{
					1024,    // 1KB
					4096,    // 4KB
					65536,   // 64KB
					1048576, // 1MB
				},
			},
			[]string{"source"},
		),
		poisonMessages: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_queue_poison_messages_total",
				Help: "Total number of queued messages rejected as poison",
			},
			[]string{"source", "fault"},
		),
		deadLetterErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_queue_dead_letter_errors_total",
				Help: "Total number of poison messages the dead-letter store failed to keep",
			},
			[]string{"source"},
		),
	}
}

func (m *queueMetrics) RecordMessageReceived(source string) {
	m.messagesReceived.WithLabelValues(source).Inc()
}

func (m *queueMetrics) RecordMessageDecoded(source string, bodyBytes int) {
	m.messagesDecoded.WithLabelValues(source).Inc()
	m.bodySize.WithLabelValues(source).Observe(float64(bodyBytes))
}

func (m *queueMetrics) RecordPoisonMessage(source string, fault string) {
	m.poisonMessages.WithLabelValues(source, fault).Inc()
}

func (m *queueMetrics) RecordDeadLetterError(source string) {
	m.deadLetterErrors.WithLabelValues(source).Inc()
}
