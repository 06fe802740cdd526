package prometheus

import (
	"time"

	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// framingMetrics is the Prometheus implementation of metrics.FramingMetrics.
type framingMetrics struct {
	connectionsAccepted    *prometheus.CounterVec
	connectionsClosed      *prometheus.CounterVec
	connectionsRejected    *prometheus.CounterVec
	connectionsForceClosed *prometheus.CounterVec
	connectionLifetime     *prometheus.HistogramVec
	activeConnections      *prometheus.GaugeVec
	preamblesDecoded       *prometheus.CounterVec
	preambleDuration       *prometheus.HistogramVec
	faults                 *prometheus.CounterVec
	messagesDispatched     *prometheus.CounterVec
	messageSize            *prometheus.HistogramVec
	bytesReceived          *prometheus.CounterVec
}

// NewFramingMetrics creates a new Prometheus-backed FramingMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewFramingMetrics() metrics.FramingMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFramingMetrics()
	}
	return newFramingMetrics(metrics.GetRegistry())
}

func newFramingMetrics(reg prometheus.Registerer) *framingMetrics {
	return &framingMetrics{
		connectionsAccepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_connections_accepted_total",
				Help: "Total number of connections accepted by transport",
			},
			[]string{"transport"},
		),
		connectionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_connections_closed_total",
				Help: "Total number of connections closed by transport",
			},
			[]string{"transport"},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_connections_rejected_total",
				Help: "Total number of connections refused before decoding",
			},
			[]string{"transport", "reason"},
		),
		connectionsForceClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
			[]string{"transport"},
		),
		connectionLifetime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "framingd_connection_lifetime_seconds",
				Help: "Time from accept to close of a connection",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					1,     // 1s
					10,    // 10s
					60,    // 1m
				},
			},
			[]string{"transport"},
		),
		activeConnections: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "framingd_active_connections",
				Help: "Current number of active connections",
			},
			[]string{"transport"},
		),
		preamblesDecoded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_preambles_decoded_total",
				Help: "Total number of preambles decoded by transport and mode",
			},
			[]string{"transport", "mode"},
		),
		preambleDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "framingd_preamble_duration_milliseconds",
				Help: "Time from accept until the preamble was decoded",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"transport"},
		),
		faults: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_faults_total",
				Help: "Total number of framing faults by transport and fault",
			},
			[]string{"transport", "fault"},
		),
		messagesDispatched: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_messages_dispatched_total",
				Help: "Total number of messages handed to the dispatcher",
			},
			[]string{"transport"},
		),
		messageSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "framingd_message_size_bytes",
				Help: "Distribution of dispatched message body sizes",
				Buckets: []float64{
					1024,    // 1KB
					4096,    // 4KB
					65536,   // 64KB
					1048576, // 1MB
				},
			},
			[]string{"transport"},
		),
		bytesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "framingd_bytes_received_total",
				Help: "Total raw bytes read from peers",
			},
			[]string{"transport"},
		),
	}
}

func (m *framingMetrics) RecordConnectionAccepted(transport string) {
	m.connectionsAccepted.WithLabelValues(transport).Inc()
}

func (m *framingMetrics) RecordConnectionClosed(transport string, lifetime time.Duration) {
	m.connectionsClosed.WithLabelValues(transport).Inc()
	m.connectionLifetime.WithLabelValues(transport).Observe(lifetime.Seconds())
}

func (m *framingMetrics) RecordConnectionRejected(transport string, reason string) {
	m.connectionsRejected.WithLabelValues(transport, reason).Inc()
}

func (m *framingMetrics) RecordConnectionForceClosed(transport string) {
	m.connectionsForceClosed.WithLabelValues(transport).Inc()
}

func (m *framingMetrics) SetActiveConnections(transport string, count int32) {
	m.activeConnections.WithLabelValues(transport).Set(float64(count))
}

func (m *framingMetrics) RecordPreambleDecoded(transport, mode string, duration time.Duration) {
	m.preamblesDecoded.WithLabelValues(transport, mode).Inc()
	m.preambleDuration.WithLabelValues(transport).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *framingMetrics) RecordFault(transport string, fault string) {
	m.faults.WithLabelValues(transport, fault).Inc()
}

func (m *framingMetrics) RecordMessageDispatched(transport string, bodyBytes int) {
	m.messagesDispatched.WithLabelValues(transport).Inc()
	m.messageSize.WithLabelValues(transport).Observe(float64(bodyBytes))
}

func (m *framingMetrics) RecordBytesReceived(transport string, bytes int64) {
	m.bytesReceived.WithLabelValues(transport).Add(float64(bytes))
}
